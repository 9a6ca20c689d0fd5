package telemetry

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/logger"
	"github.com/rl1809/vending-fleet/internal/metrics"
	"github.com/rl1809/vending-fleet/internal/netutil"
	"github.com/rl1809/vending-fleet/internal/port"
)

const (
	defaultLowStockThreshold = 3
	defaultWarningQueueSize  = 16
	sinkTimeout              = 5 * time.Second

	// maxLineSize bounds one encoded record. Longer lines are discarded up
	// to the next newline and counted as malformed.
	maxLineSize = 4096
)

type CollectorConfig struct {
	LowStockThreshold int
	WarningQueueSize  int
}

// Collector ingests sale record streams. Each connection is read on its own
// goroutine; warnings for a connection are written by a second goroutine so
// a slow machine never stalls its own read loop. The stock estimates are
// shared by every connection through the estimator.
type Collector struct {
	estimator port.StockEstimator
	sales     port.SaleRepository
	publisher port.SalePublisher
	cfg       CollectorConfig
	log       zerolog.Logger

	wg sync.WaitGroup
}

// NewCollector builds a collector. sales and publisher may be nil.
func NewCollector(estimator port.StockEstimator, sales port.SaleRepository, publisher port.SalePublisher, cfg CollectorConfig) *Collector {
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = defaultLowStockThreshold
	}
	if cfg.WarningQueueSize <= 0 {
		cfg.WarningQueueSize = defaultWarningQueueSize
	}
	return &Collector{
		estimator: estimator,
		sales:     sales,
		publisher: publisher,
		cfg:       cfg,
		log:       logger.Component("collector"),
	}
}

// SeedFromInventory sets the estimate of every item to its stock.
func (c *Collector) SeedFromInventory(ctx context.Context, items []domain.Item) error {
	for _, item := range items {
		if err := c.estimator.Seed(ctx, item.Name, item.Stock); err != nil {
			return err
		}
	}
	c.log.Info().Int("items", len(items)).Msg("stock estimates seeded from inventory")
	return nil
}

// Serve accepts connections until ctx is cancelled or lis fails. It returns
// after every connection handler has finished.
func (c *Collector) Serve(ctx context.Context, lis net.Listener) error {
	stop := context.AfterFunc(ctx, func() { lis.Close() })
	defer stop()

	c.log.Info().Str("addr", lis.Addr().String()).Msg("collector listening")

	for {
		conn, err := lis.Accept()
		if err != nil {
			c.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleConn(ctx, conn)
		}()
	}
}

func (c *Collector) handleConn(ctx context.Context, conn net.Conn) {
	machine := conn.RemoteAddr().String()
	log := c.log.With().Str("machine", machine).Logger()

	metrics.TelemetryConnections.Inc()
	defer metrics.TelemetryConnections.Dec()

	// closing the connection is what unblocks the read on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	log.Info().Msg("machine connected")

	warnings := make(chan string, c.cfg.WarningQueueSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writeWarnings(conn, warnings, log)
	}()

	reader := bufio.NewReaderSize(conn, maxLineSize)
	var readErr error
	for readErr == nil {
		line, tooLong, err := readLine(reader)
		readErr = err
		switch {
		case tooLong:
			metrics.TelemetryRecords.WithLabelValues("malformed").Inc()
			log.Warn().Int("limit", maxLineSize).Msg("skipping over-long sale record")
		case err == nil || line != "":
			c.handleLine(ctx, machine, line, warnings)
		}
	}

	close(warnings)
	<-writerDone

	if !netutil.IsExpectedCloseError(readErr) {
		log.Warn().Err(readErr).Msg("sale stream failed")
		return
	}
	log.Info().Msg("machine disconnected")
}

// readLine returns the next line without its terminator. A line longer than
// the reader's buffer is consumed through its newline and reported as
// tooLong. A final unterminated line is returned together with the read
// error.
func readLine(r *bufio.Reader) (line string, tooLong bool, err error) {
	b, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.ReadSlice('\n')
		}
		return "", true, err
	}
	return strings.TrimRight(string(b), "\r\n"), false, err
}

// handleLine processes one record. Malformed lines are logged and skipped.
func (c *Collector) handleLine(ctx context.Context, machine, line string, warnings chan<- string) {
	record, err := DecodeRecord(line)
	if err != nil {
		metrics.TelemetryRecords.WithLabelValues("malformed").Inc()
		c.log.Warn().Err(err).Str("machine", machine).Msg("skipping malformed sale record")
		return
	}
	metrics.TelemetryRecords.WithLabelValues("ok").Inc()

	c.persist(ctx, machine, record)

	before, after, err := c.estimator.Decrement(ctx, record.ItemName, record.Quantity)
	if err != nil {
		c.log.Error().Err(err).Str("item", record.ItemName).Msg("failed to update stock estimate")
		return
	}

	c.log.Debug().
		Str("machine", machine).
		Str("item", record.ItemName).
		Int("quantity", record.Quantity).
		Int("estimate", after).
		Msg("sale recorded")

	if before > c.cfg.LowStockThreshold && after <= c.cfg.LowStockThreshold {
		select {
		case warnings <- FormatWarning(record.ItemName, after):
			metrics.LowStockWarnings.Inc()
			c.log.Info().Str("machine", machine).Str("item", record.ItemName).Int("estimate", after).Msg("low stock warning sent")
		default:
			c.log.Warn().Str("machine", machine).Str("item", record.ItemName).Msg("warning queue full, warning dropped")
		}
	}
}

func (c *Collector) persist(ctx context.Context, machine string, record domain.SaleRecord) {
	if c.sales != nil {
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := c.sales.AppendSale(sinkCtx, machine, record); err != nil {
			metrics.PersistFailures.WithLabelValues("sales").Inc()
			c.log.Error().Err(err).Str("machine", machine).Str("item", record.ItemName).Msg("failed to persist sale")
		}
		cancel()
	}

	if c.publisher != nil {
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := c.publisher.PublishSale(sinkCtx, machine, record); err != nil {
			c.log.Warn().Err(err).Str("machine", machine).Str("item", record.ItemName).Msg("failed to publish sale")
		}
		cancel()
	}
}

// writeWarnings writes each warning as a line. After a write error the rest
// are discarded so the read loop is never blocked.
func writeWarnings(w io.Writer, warnings <-chan string, log zerolog.Logger) {
	failed := false
	for warning := range warnings {
		if failed {
			continue
		}
		if _, err := io.WriteString(w, warning+"\n"); err != nil {
			failed = true
			if !netutil.IsExpectedCloseError(err) {
				log.Warn().Err(err).Msg("failed to write warning")
			}
		}
	}
}
