package fleetsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/core/service"
	"github.com/rl1809/vending-fleet/internal/logger"
	"github.com/rl1809/vending-fleet/internal/netutil"
)

// Peer is a machine's connection to the coordinator. It sends edit, restock,
// getInventory and viewSales requests and applies every edit broadcast to
// the local mirror. A Peer does not reconnect: once the stream ends all
// requests fail with domain.ErrNotConnected.
type Peer struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	mirror *service.InventoryStore
	log    zerolog.Logger

	sendMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Message
	err     error

	done chan struct{}
}

// Dial opens the sync stream to the coordinator at addr. Broadcasts are
// applied to mirror.
func Dial(ctx context.Context, addr string, mirror *service.InventoryStore, opts ...grpc.DialOption) (*Peer, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial coordinator: %w", err)
	}

	// the stream outlives ctx, which only bounds connection setup
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	stream, err := conn.NewStream(streamCtx, &serviceDesc.Streams[0], syncMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("open sync stream: %w", err)
	}

	p := &Peer{
		conn:    conn,
		stream:  stream,
		cancel:  cancel,
		mirror:  mirror,
		log:     logger.Component("fleet-peer").With().Str("coordinator", addr).Logger(),
		pending: make(map[string]chan Message),
		done:    make(chan struct{}),
	}
	go p.recvLoop()

	p.log.Info().Msg("connected to coordinator")
	return p, nil
}

// Done is closed when the stream has ended.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err returns the reason the stream ended, or nil while it is open.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Peer) Close() error {
	p.cancel()
	<-p.done
	return p.conn.Close()
}

// Edit asks the coordinator to replace the item at index. The mirror changes
// when the broadcast arrives, which is before Edit returns.
func (p *Peer) Edit(ctx context.Context, index int, name string, price, stock int) error {
	_, err := p.request(ctx, EditMessage(index, domain.Item{Name: name, Price: price, Stock: stock}))
	return err
}

func (p *Peer) Restock(ctx context.Context, index, amount int) error {
	_, err := p.request(ctx, RestockMessage(index, amount))
	return err
}

func (p *Peer) FetchInventory(ctx context.Context) ([]domain.IndexedItem, error) {
	reply, err := p.request(ctx, GetInventoryMessage())
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

func (p *Peer) ViewSales(ctx context.Context, view domain.SalesView) ([]domain.SalesTotal, error) {
	reply, err := p.request(ctx, ViewSalesMessage(view))
	if err != nil {
		return nil, err
	}
	return reply.Sales, nil
}

func (p *Peer) request(ctx context.Context, msg Message) (Message, error) {
	msg.RID = uuid.NewString()
	replyCh := make(chan Message, 1)

	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %v", domain.ErrNotConnected, err)
	}
	p.pending[msg.RID] = replyCh
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, msg.RID)
		p.mu.Unlock()
	}()

	p.sendMu.Lock()
	err := p.stream.SendMsg(&msg)
	p.sendMu.Unlock()
	if err != nil {
		return Message{}, fmt.Errorf("%w: send %s: %v", domain.ErrNotConnected, msg.Type, err)
	}

	select {
	case reply := <-replyCh:
		if reply.Type == TypeError {
			return reply, &RemoteError{Code: reply.Code, Message: reply.Message}
		}
		return reply, nil
	case <-p.done:
		return Message{}, fmt.Errorf("%w: %v", domain.ErrNotConnected, p.Err())
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *Peer) recvLoop() {
	var err error
	defer func() {
		p.mu.Lock()
		if err == nil {
			err = errors.New("stream closed")
		}
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()

	for {
		var msg Message
		if err = p.stream.RecvMsg(&msg); err != nil {
			if netutil.IsExpectedCloseError(err) {
				p.log.Info().Msg("sync stream closed")
			} else {
				p.log.Warn().Err(err).Msg("sync stream failed")
			}
			return
		}

		if msg.RID != "" {
			p.deliver(msg)
			continue
		}

		switch msg.Type {
		case TypeEdit:
			p.applyBroadcast(msg)
		case TypeError:
			p.log.Warn().Str("code", msg.Code).Str("message", msg.Message).Msg("error from coordinator")
		default:
			p.log.Debug().Str("type", msg.Type).Msg("ignored unsolicited message")
		}
	}
}

func (p *Peer) deliver(msg Message) {
	p.mu.Lock()
	replyCh, ok := p.pending[msg.RID]
	p.mu.Unlock()

	if !ok {
		p.log.Debug().Str("rid", msg.RID).Str("type", msg.Type).Msg("reply for abandoned request")
		return
	}
	replyCh <- msg
}

// applyBroadcast overwrites the mirror slot with the broadcast values. Stock
// is reconciled as a relative restock.
func (p *Peer) applyBroadcast(msg Message) {
	if err := msg.Validate(); err != nil {
		p.log.Warn().Err(err).Msg("malformed edit broadcast")
		return
	}

	item, err := p.mirror.ApplyRemote(*msg.ID, *msg.Name, *msg.Price, *msg.Stock)
	if err != nil {
		p.log.Warn().Err(err).Int("index", *msg.ID).Msg("failed to apply edit broadcast")
		return
	}
	p.log.Debug().
		Int("index", *msg.ID).
		Str("name", item.Name).
		Int("stock", item.Stock).
		Msg("mirror updated")
}
