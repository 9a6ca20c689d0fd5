package fleetsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/core/service"
	"github.com/rl1809/vending-fleet/internal/metrics"
	"github.com/rl1809/vending-fleet/internal/port"
)

const bufSize = 1 << 20

func testItems() []domain.Item {
	return []domain.Item{
		{Name: "Water", Price: 450, Stock: 10},
		{Name: "Coffee", Price: 500, Stock: 10},
		{Name: "Sprite", Price: 1200, Stock: 3},
	}
}

// Mock InventoryRepository
type recordingRepo struct {
	mu    sync.Mutex
	saves [][]domain.Item
	err   error
}

func (r *recordingRepo) LoadInventory(ctx context.Context) ([]domain.Item, error) {
	return nil, nil
}

func (r *recordingRepo) SaveInventory(ctx context.Context, items []domain.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, items)
	return r.err
}

func (r *recordingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *recordingRepo) last() []domain.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves[len(r.saves)-1]
}

// Stub SalesSource
type stubSales struct{}

func (stubSales) SalesView(ctx context.Context, view domain.SalesView) ([]domain.SalesTotal, error) {
	if view != domain.SalesViewDaily {
		return nil, domain.ErrUnsupportedSalesView
	}
	return []domain.SalesTotal{{Period: "2025-06-01", Total: 1500}}, nil
}

type harness struct {
	store *service.InventoryStore
	lis   *bufconn.Listener
}

func newHarness(t *testing.T, repo port.InventoryRepository, sales SalesSource) *harness {
	t.Helper()
	return newHarnessWithConfig(t, repo, sales, CoordinatorConfig{PeerQueueSize: 16, PersistTimeout: time.Second})
}

func newHarnessWithConfig(t *testing.T, repo port.InventoryRepository, sales SalesSource, cfg CoordinatorConfig) *harness {
	t.Helper()

	store := service.NewInventoryStore(testItems())
	coord := NewCoordinator(store, repo, sales, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)

	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	Register(srv, coord)
	go srv.Serve(lis)

	t.Cleanup(func() {
		srv.Stop()
		cancel()
	})
	return &harness{store: store, lis: lis}
}

func (h *harness) dialer(ctx context.Context, _ string) (net.Conn, error) {
	return h.lis.DialContext(ctx)
}

// dial connects a peer and loads its mirror from the coordinator.
func (h *harness) dial(t *testing.T) (*Peer, *service.InventoryStore) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mirror := service.NewInventoryStore(nil)
	p, err := Dial(ctx, "passthrough:///bufnet", mirror, grpc.WithContextDialer(h.dialer))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	snapshot, err := p.FetchInventory(ctx)
	if err != nil {
		t.Fatalf("FetchInventory: %v", err)
	}
	items := make([]domain.Item, len(snapshot))
	for _, it := range snapshot {
		items[it.Index] = it.Item
	}
	mirror.Replace(items)
	return p, mirror
}

// rawStream opens a sync stream without the Peer wrapper.
func (h *harness) rawStream(t *testing.T, opts ...grpc.DialOption) grpc.ClientStream {
	t.Helper()

	opts = append([]grpc.DialOption{
		grpc.WithContextDialer(h.dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], syncMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		conn.Close()
	})
	return stream
}

func roundTrip(t *testing.T, stream grpc.ClientStream, msg Message) Message {
	t.Helper()
	if err := stream.SendMsg(&msg); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	var reply Message
	if err := stream.RecvMsg(&reply); err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	return reply
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSync_EditConvergesOnEveryPeer(t *testing.T) {
	h := newHarness(t, nil, nil)
	origin, originMirror := h.dial(t)
	_, mirrorB := h.dial(t)
	_, mirrorC := h.dial(t)

	if err := origin.Edit(context.Background(), 2, "Cola", 1500, 8); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	want := domain.Item{Name: "Cola", Price: 1500, Stock: 8}

	// the broadcast is queued ahead of the ack, so the origin has it already
	if got, _ := originMirror.Get(2); got != want {
		t.Errorf("origin mirror = %+v, want %+v", got, want)
	}
	for i, mirror := range []*service.InventoryStore{mirrorB, mirrorC} {
		eventually(t, func() bool {
			got, _ := mirror.Get(2)
			return got == want
		})
		if got, _ := mirror.Get(2); got != want {
			t.Errorf("peer %d mirror = %+v, want %+v", i, got, want)
		}
	}
	if got, _ := h.store.Get(2); got != want {
		t.Errorf("authoritative = %+v, want %+v", got, want)
	}
}

func TestSync_RestockBroadcastAsEdit(t *testing.T) {
	h := newHarness(t, nil, nil)
	origin, _ := h.dial(t)
	_, other := h.dial(t)

	if err := origin.Restock(context.Background(), 0, 5); err != nil {
		t.Fatalf("Restock: %v", err)
	}

	eventually(t, func() bool {
		got, _ := other.Get(0)
		return got.Stock == 15
	})
	if got, _ := other.Get(0); got.Name != "Water" || got.Price != 450 {
		t.Errorf("restock changed other fields: %+v", got)
	}
}

func TestSync_RejectedRequestsReturnDomainErrors(t *testing.T) {
	h := newHarness(t, nil, nil)
	p, mirror := h.dial(t)
	ctx := context.Background()

	if err := p.Edit(ctx, 9, "Ghost", 100, 1); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
	if err := p.Restock(ctx, 2, -10); !errors.Is(err, domain.ErrNegativeStock) {
		t.Errorf("expected ErrNegativeStock, got %v", err)
	}
	if err := p.Edit(ctx, 1, "Tea", -1, 1); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}

	var remote *RemoteError
	err := p.Edit(ctx, 9, "Ghost", 100, 1)
	if !errors.As(err, &remote) || remote.Code != "item_not_found" {
		t.Errorf("expected RemoteError item_not_found, got %v", err)
	}

	if got, _ := mirror.Get(2); got.Stock != 3 {
		t.Errorf("mirror changed after rejected restock: %+v", got)
	}

	// a negative restock that keeps stock >= 0 is a correction
	if err := p.Restock(ctx, 2, -1); err != nil {
		t.Errorf("Restock(-1): %v", err)
	}
	if got, _ := mirror.Get(2); got.Stock != 2 {
		t.Errorf("stock = %d, want 2", got.Stock)
	}
}

func TestSync_UnknownIndexIsNotBroadcast(t *testing.T) {
	h := newHarness(t, nil, nil)
	stream := h.rawStream(t)

	bad := EditMessage(9, domain.Item{Name: "Ghost", Price: 1, Stock: 1})
	bad.RID = "r1"
	reply := roundTrip(t, stream, bad)
	if reply.Type != TypeError || reply.RID != "r1" || reply.Code != "item_not_found" {
		t.Fatalf("reply = %+v", reply)
	}

	// nothing else was queued: the next message is the inventory reply
	get := GetInventoryMessage()
	get.RID = "r2"
	reply = roundTrip(t, stream, get)
	if reply.Type != TypeInventory || reply.RID != "r2" || len(reply.Data) != 3 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestSync_UnsupportedCommandKeepsConnection(t *testing.T) {
	h := newHarness(t, nil, nil)
	stream := h.rawStream(t)

	reply := roundTrip(t, stream, Message{Type: "dispense", RID: "r1"})
	if reply.Type != TypeError || reply.Code != "unsupported_command" || reply.RID != "r1" {
		t.Fatalf("reply = %+v", reply)
	}

	reply = roundTrip(t, stream, Message{Type: TypeRestock, RID: "r2", ID: new(int)})
	if reply.Type != TypeError || reply.Code != "malformed_message" {
		t.Fatalf("reply = %+v", reply)
	}

	get := GetInventoryMessage()
	get.RID = "r3"
	if reply = roundTrip(t, stream, get); reply.Type != TypeInventory {
		t.Errorf("connection unusable after rejected command: %+v", reply)
	}
}

func TestSync_UndecodableFrameKeepsConnection(t *testing.T) {
	h := newHarness(t, nil, nil)
	stream := h.rawStream(t)

	frame := rawFrame(`{"type":"edit","rid":"r1","id":"two"}`)
	if err := stream.SendMsg(frame); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	var reply Message
	if err := stream.RecvMsg(&reply); err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if reply.Type != TypeError || reply.Code != "malformed_message" || reply.RID != "r1" {
		t.Fatalf("reply = %+v", reply)
	}

	if err := stream.SendMsg(rawFrame(`not json`)); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	if err := stream.RecvMsg(&reply); err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if reply.Type != TypeError || reply.Code != "malformed_message" || reply.RID != "" {
		t.Fatalf("reply = %+v", reply)
	}

	get := GetInventoryMessage()
	get.RID = "r2"
	reply = roundTrip(t, stream, get)
	if reply.Type != TypeInventory || reply.RID != "r2" || len(reply.Data) != 3 {
		t.Errorf("connection unusable after undecodable frame: %+v", reply)
	}
	if got, _ := h.store.Get(2); got.Name != "Sprite" {
		t.Errorf("undecodable edit was applied: %+v", got)
	}
}

func TestSync_StalledPeerDoesNotBlockOthers(t *testing.T) {
	// room for one broadcast plus its ack: the origin's queue is empty
	// whenever it starts a request
	h := newHarnessWithConfig(t, nil, nil, CoordinatorConfig{PeerQueueSize: 2, PersistTimeout: time.Second})

	// a small fixed receive window makes the server's writes to this peer
	// block as soon as it stops reading
	stalled := h.rawStream(t, grpc.WithInitialWindowSize(1<<16), grpc.WithInitialConnWindowSize(1<<16))
	get := GetInventoryMessage()
	get.RID = "r1"
	if reply := roundTrip(t, stalled, get); reply.Type != TypeInventory {
		t.Fatalf("reply = %+v", reply)
	}

	origin, mirror := h.dial(t)
	droppedBefore := counterValue(t, metrics.BroadcastDropped)

	const edits = 300
	padding := strings.Repeat("x", 1024)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < edits; i++ {
		if err := origin.Edit(ctx, 0, fmt.Sprintf("Cola-%d-%s", i, padding), 500, i); err != nil {
			t.Fatalf("Edit %d: %v", i, err)
		}
	}

	want := domain.Item{Name: fmt.Sprintf("Cola-%d-%s", edits-1, padding), Price: 500, Stock: edits - 1}
	if got, _ := mirror.Get(0); got != want {
		t.Errorf("mirror = %+v, want last edit", got)
	}
	if got, _ := h.store.Get(0); got != want {
		t.Errorf("authoritative = %+v, want last edit", got)
	}
	if dropped := counterValue(t, metrics.BroadcastDropped) - droppedBefore; dropped == 0 {
		t.Error("no broadcasts dropped for the stalled peer")
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestSync_EditAck(t *testing.T) {
	h := newHarness(t, nil, nil)
	stream := h.rawStream(t)

	edit := EditMessage(0, domain.Item{Name: "Juice", Price: 700, Stock: 4})
	edit.RID = "r1"
	if err := stream.SendMsg(&edit); err != nil {
		t.Fatal(err)
	}

	var broadcast, ack Message
	if err := stream.RecvMsg(&broadcast); err != nil {
		t.Fatal(err)
	}
	if err := stream.RecvMsg(&ack); err != nil {
		t.Fatal(err)
	}

	if broadcast.Type != TypeEdit || broadcast.RID != "" || *broadcast.Name != "Juice" {
		t.Errorf("broadcast = %+v", broadcast)
	}
	if ack.Type != TypeAck || ack.RID != "r1" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestSync_ViewSales(t *testing.T) {
	h := newHarness(t, nil, stubSales{})
	p, _ := h.dial(t)
	ctx := context.Background()

	sales, err := p.ViewSales(ctx, domain.SalesViewDaily)
	if err != nil {
		t.Fatalf("ViewSales: %v", err)
	}
	if len(sales) != 1 || sales[0].Total != 1500 {
		t.Errorf("sales = %+v", sales)
	}

	if _, err := p.ViewSales(ctx, "weekly"); !errors.Is(err, domain.ErrUnsupportedSalesView) {
		t.Errorf("expected ErrUnsupportedSalesView, got %v", err)
	}
}

func TestSync_ViewSalesWithoutSource(t *testing.T) {
	h := newHarness(t, nil, nil)
	p, _ := h.dial(t)

	_, err := p.ViewSales(context.Background(), domain.SalesViewTotal)
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Code != codeInternal {
		t.Errorf("expected internal RemoteError, got %v", err)
	}
}

func TestSync_PersistsBeforeBroadcast(t *testing.T) {
	repo := &recordingRepo{}
	h := newHarness(t, repo, nil)
	p, _ := h.dial(t)

	if err := p.Restock(context.Background(), 1, 2); err != nil {
		t.Fatalf("Restock: %v", err)
	}
	if repo.count() != 1 {
		t.Fatalf("saves = %d, want 1", repo.count())
	}
	if saved := repo.last(); len(saved) != 3 || saved[1].Stock != 12 {
		t.Errorf("saved = %+v", saved)
	}
}

func TestSync_PersistFailureStillBroadcasts(t *testing.T) {
	repo := &recordingRepo{err: errors.New("db down")}
	h := newHarness(t, repo, nil)
	origin, _ := h.dial(t)
	_, other := h.dial(t)

	if err := origin.Edit(context.Background(), 0, "Soda", 800, 6); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	eventually(t, func() bool {
		got, _ := other.Get(0)
		return got.Name == "Soda"
	})
}

func TestSync_ConcurrentRestocksConverge(t *testing.T) {
	h := newHarness(t, nil, nil)

	const peers, perPeer = 4, 10
	clients := make([]*Peer, peers)
	mirrors := make([]*service.InventoryStore, peers)
	for i := range clients {
		clients[i], mirrors[i] = h.dial(t)
	}

	var wg sync.WaitGroup
	for _, p := range clients {
		wg.Add(1)
		go func(p *Peer) {
			defer wg.Done()
			for j := 0; j < perPeer; j++ {
				if err := p.Restock(context.Background(), 0, 1); err != nil {
					t.Errorf("Restock: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	want := 10 + peers*perPeer
	if got, _ := h.store.Get(0); got.Stock != want {
		t.Errorf("authoritative stock = %d, want %d", got.Stock, want)
	}
	for i, mirror := range mirrors {
		eventually(t, func() bool {
			got, _ := mirror.Get(0)
			return got.Stock == want
		})
		if got, _ := mirror.Get(0); got.Stock != want {
			t.Errorf("mirror %d stock = %d, want %d", i, got.Stock, want)
		}
	}
}

func TestPeer_RequestsFailAfterDisconnect(t *testing.T) {
	store := service.NewInventoryStore(testItems())
	coord := NewCoordinator(store, nil, nil, CoordinatorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)

	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	Register(srv, coord)
	go srv.Serve(lis)
	defer srv.Stop()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	p, err := Dial(dialCtx, "passthrough:///bufnet", service.NewInventoryStore(nil),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer p.Close()

	if _, err := p.FetchInventory(dialCtx); err != nil {
		t.Fatalf("FetchInventory: %v", err)
	}

	// stopping the loop closes every peer queue and ends the streams
	cancel()

	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("peer stream did not end")
	}
	if err := p.Restock(context.Background(), 0, 1); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
