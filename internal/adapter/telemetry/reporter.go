package telemetry

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/logger"
	"github.com/rl1809/vending-fleet/internal/netutil"
)

// Reporter is the machine side of the telemetry channel. Report writes one
// line per sale; warnings from the collector are handed to onWarning from a
// separate reader goroutine.
type Reporter struct {
	conn      net.Conn
	onWarning func(string)
	log       zerolog.Logger

	mu sync.Mutex

	done chan struct{}
}

// DialReporter connects to the collector at addr. onWarning may be nil.
func DialReporter(ctx context.Context, addr string, onWarning func(string)) (*Reporter, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial collector: %w", err)
	}
	return NewReporter(conn, onWarning), nil
}

// NewReporter wraps an established connection.
func NewReporter(conn net.Conn, onWarning func(string)) *Reporter {
	r := &Reporter{
		conn:      conn,
		onWarning: onWarning,
		log:       logger.Component("reporter").With().Str("collector", conn.RemoteAddr().String()).Logger(),
		done:      make(chan struct{}),
	}
	go r.readWarnings()
	return r
}

// Report sends one sale record. Transport errors are returned to the caller;
// the record is not retried.
func (r *Reporter) Report(record domain.SaleRecord) error {
	line, err := EncodeRecord(record)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := io.WriteString(r.conn, line+"\n"); err != nil {
		return fmt.Errorf("send sale record: %w", err)
	}
	return nil
}

// Done is closed when the collector side of the connection has ended.
func (r *Reporter) Done() <-chan struct{} {
	return r.done
}

func (r *Reporter) Close() error {
	err := r.conn.Close()
	<-r.done
	return err
}

func (r *Reporter) readWarnings() {
	defer close(r.done)

	scanner := bufio.NewScanner(r.conn)
	for scanner.Scan() {
		warning := scanner.Text()
		r.log.Warn().Str("warning", warning).Msg("collector warning")
		if r.onWarning != nil {
			r.onWarning(warning)
		}
	}

	if err := scanner.Err(); err != nil && !netutil.IsExpectedCloseError(err) {
		r.log.Warn().Err(err).Msg("warning stream failed")
	}
}
