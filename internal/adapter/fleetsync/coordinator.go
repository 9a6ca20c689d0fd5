package fleetsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcpeer "google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/core/service"
	"github.com/rl1809/vending-fleet/internal/logger"
	"github.com/rl1809/vending-fleet/internal/metrics"
	"github.com/rl1809/vending-fleet/internal/netutil"
	"github.com/rl1809/vending-fleet/internal/port"
)

const (
	defaultPeerQueueSize  = 64
	defaultPersistTimeout = 5 * time.Second
)

var errCoordinatorStopped = errors.New("coordinator stopped")

// SalesSource answers viewSales requests.
type SalesSource interface {
	SalesView(ctx context.Context, view domain.SalesView) ([]domain.SalesTotal, error)
}

type CoordinatorConfig struct {
	PeerQueueSize  int
	PersistTimeout time.Duration
}

// Coordinator owns the authoritative inventory. Every inbound message from
// every peer goes through a single loop that applies it to completion and
// broadcasts the result before taking the next one, so all peers see
// mutations in the same order.
type Coordinator struct {
	inventory *service.InventoryStore
	repo      port.InventoryRepository
	sales     SalesSource
	cfg       CoordinatorConfig
	log       zerolog.Logger

	inbox chan inbound
	join  chan *peerConn
	leave chan *peerConn
	done  chan struct{}

	// owned by the loop
	peers map[string]*peerConn
}

type inbound struct {
	from *peerConn
	msg  Message

	// set when the frame could not be decoded; msg then only carries the rid
	err error
}

// peerConn is one connected peer as seen by the coordinator. Messages are
// queued on send and written by the connection's own writer goroutine, so a
// slow peer never stalls the loop.
type peerConn struct {
	id   string
	addr string
	send chan Message
}

// NewCoordinator builds a coordinator over inventory. repo and sales may be
// nil: persistence is then skipped and viewSales is answered with an error.
func NewCoordinator(inventory *service.InventoryStore, repo port.InventoryRepository, sales SalesSource, cfg CoordinatorConfig) *Coordinator {
	if cfg.PeerQueueSize <= 0 {
		cfg.PeerQueueSize = defaultPeerQueueSize
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	return &Coordinator{
		inventory: inventory,
		repo:      repo,
		sales:     sales,
		cfg:       cfg,
		log:       logger.Component("coordinator"),
		inbox:     make(chan inbound),
		join:      make(chan *peerConn),
		leave:     make(chan *peerConn),
		done:      make(chan struct{}),
		peers:     make(map[string]*peerConn),
	}
}

// Run processes messages until ctx is cancelled. On return every peer's send
// queue is closed, which ends its stream.
func (c *Coordinator) Run(ctx context.Context) {
	defer func() {
		for id, p := range c.peers {
			close(p.send)
			delete(c.peers, id)
			metrics.ConnectedPeers.Dec()
		}
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("coordinator loop stopped")
			return

		case p := <-c.join:
			c.peers[p.id] = p
			metrics.ConnectedPeers.Inc()
			c.log.Info().Str("peer", p.id).Str("addr", p.addr).Int("peers", len(c.peers)).Msg("peer connected")

		case p := <-c.leave:
			if _, ok := c.peers[p.id]; !ok {
				continue
			}
			delete(c.peers, p.id)
			close(p.send)
			metrics.ConnectedPeers.Dec()
			c.log.Info().Str("peer", p.id).Str("addr", p.addr).Int("peers", len(c.peers)).Msg("peer disconnected")

		case in := <-c.inbox:
			// the peer may have left while its message was in flight
			if _, ok := c.peers[in.from.id]; !ok {
				continue
			}
			c.handle(ctx, in.from, in.msg, in.err)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, from *peerConn, msg Message, decodeErr error) {
	if decodeErr != nil {
		c.log.Warn().Err(decodeErr).Str("peer", from.id).Msg("undecodable sync frame")
		metrics.SyncMessages.WithLabelValues("unknown", "invalid").Inc()
		c.reply(from, errorMessage(msg.RID, decodeErr))
		return
	}
	if err := msg.Validate(); err != nil {
		c.log.Warn().Err(err).Str("peer", from.id).Str("type", msg.Type).Msg("rejected sync message")
		metrics.SyncMessages.WithLabelValues(metricType(msg.Type), "invalid").Inc()
		c.reply(from, errorMessage(msg.RID, err))
		return
	}

	var err error
	switch msg.Type {
	case TypeEdit:
		err = c.applyEdit(ctx, from, msg)
	case TypeRestock:
		err = c.applyRestock(ctx, from, msg)
	case TypeGetInventory:
		c.reply(from, inventoryMessage(msg.RID, c.inventory.Indexed()))
	case TypeViewSales:
		err = c.viewSales(ctx, from, msg)
	}

	if err != nil {
		c.log.Warn().Err(err).Str("peer", from.id).Str("type", msg.Type).Msg("sync request failed")
		metrics.SyncMessages.WithLabelValues(msg.Type, "error").Inc()
		c.reply(from, errorMessage(msg.RID, err))
		return
	}
	metrics.SyncMessages.WithLabelValues(msg.Type, "ok").Inc()
}

func (c *Coordinator) applyEdit(ctx context.Context, from *peerConn, msg Message) error {
	index := *msg.ID
	item, err := c.inventory.Edit(index, *msg.Name, *msg.Price, *msg.Stock)
	if err != nil {
		return err
	}
	c.commit(ctx, index, item)
	c.reply(from, ackMessage(msg.RID, "edit applied"))
	return nil
}

func (c *Coordinator) applyRestock(ctx context.Context, from *peerConn, msg Message) error {
	index := *msg.ID
	item, err := c.inventory.Restock(index, *msg.Amount)
	if err != nil {
		return err
	}
	c.commit(ctx, index, item)
	c.reply(from, ackMessage(msg.RID, "restock applied"))
	return nil
}

// commit persists the catalog and broadcasts the new item as an edit. A
// persistence failure is logged and the broadcast still goes out.
func (c *Coordinator) commit(ctx context.Context, index int, item domain.Item) {
	if c.repo != nil {
		saveCtx, cancel := context.WithTimeout(ctx, c.cfg.PersistTimeout)
		if err := c.repo.SaveInventory(saveCtx, c.inventory.Snapshot()); err != nil {
			metrics.PersistFailures.WithLabelValues("inventory").Inc()
			c.log.Error().Err(err).Int("index", index).Msg("failed to persist inventory")
		}
		cancel()
	}

	c.broadcast(EditMessage(index, item))
	c.log.Debug().
		Int("index", index).
		Str("name", item.Name).
		Int("price", item.Price).
		Int("stock", item.Stock).
		Int("peers", len(c.peers)).
		Msg("edit broadcast")
}

func (c *Coordinator) viewSales(ctx context.Context, from *peerConn, msg Message) error {
	if c.sales == nil {
		return errors.New("sales reporting is not configured")
	}

	view := domain.SalesView(msg.ViewType)
	queryCtx, cancel := context.WithTimeout(ctx, c.cfg.PersistTimeout)
	defer cancel()

	sales, err := c.sales.SalesView(queryCtx, view)
	if err != nil {
		return err
	}
	c.reply(from, salesDataMessage(msg.RID, view, sales))
	return nil
}

func (c *Coordinator) broadcast(msg Message) {
	for _, p := range c.peers {
		c.reply(p, msg)
	}
}

// reply queues msg for p without blocking. A full queue drops the message.
func (c *Coordinator) reply(p *peerConn, msg Message) {
	select {
	case p.send <- msg:
	default:
		metrics.BroadcastDropped.Inc()
		c.log.Warn().Str("peer", p.id).Str("type", msg.Type).Msg("peer send queue full, message dropped")
	}
}

// Sync serves one peer connection.
func (c *Coordinator) Sync(stream grpc.ServerStream) error {
	p := &peerConn{
		id:   uuid.NewString(),
		send: make(chan Message, c.cfg.PeerQueueSize),
	}
	if pr, ok := grpcpeer.FromContext(stream.Context()); ok {
		p.addr = pr.Addr.String()
	}

	select {
	case c.join <- p:
	case <-c.done:
		return status.Error(codes.Unavailable, errCoordinatorStopped.Error())
	case <-stream.Context().Done():
		return stream.Context().Err()
	}

	writeDone := make(chan error, 1)
	go func() { writeDone <- writeLoop(stream, p.send) }()

	readDone := make(chan error, 1)
	go func() { readDone <- c.readLoop(stream, p) }()

	var err error
	select {
	case err = <-readDone:
		c.unregister(p)
		// flush replies still queued for a peer that only half-closed
		<-writeDone
	case err = <-writeDone:
		c.unregister(p)
	}

	if err == nil || netutil.IsExpectedCloseError(err) || errors.Is(err, errCoordinatorStopped) {
		return nil
	}
	c.log.Warn().Err(err).Str("peer", p.id).Msg("peer stream failed")
	return err
}

func (c *Coordinator) readLoop(stream grpc.ServerStream, p *peerConn) error {
	for {
		var frame rawFrame
		if err := stream.RecvMsg(&frame); err != nil {
			return err
		}
		msg, err := decodeFrame(frame)
		select {
		case c.inbox <- inbound{from: p, msg: msg, err: err}:
		case <-c.done:
			return errCoordinatorStopped
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// decodeFrame parses one frame. On failure the returned message still
// carries the rid when the frame had a readable one, so the error reply can
// be correlated.
func decodeFrame(frame rawFrame) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		var head struct {
			RID string `json:"rid"`
		}
		_ = json.Unmarshal(frame, &head)
		return Message{RID: head.RID}, fmt.Errorf("decode frame: %v: %w", err, domain.ErrMalformedMessage)
	}
	return msg, nil
}

func (c *Coordinator) unregister(p *peerConn) {
	select {
	case c.leave <- p:
	case <-c.done:
	}
}

// writeLoop sends queued messages until the queue is closed or a send fails.
func writeLoop(stream grpc.ServerStream, send <-chan Message) error {
	for msg := range send {
		if err := stream.SendMsg(&msg); err != nil {
			return err
		}
	}
	return nil
}

func metricType(t string) string {
	switch t {
	case TypeEdit, TypeRestock, TypeGetInventory, TypeViewSales:
		return t
	}
	return "unknown"
}
