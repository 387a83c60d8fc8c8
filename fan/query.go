package fan

import (
	"context"
	"encoding/hex"
	"net"
	"sync"
	"time"

	"github.com/mLihs/SmartMiFanAsync/miio"
	"github.com/mLihs/SmartMiFanAsync/netudp"
)

// QueryState names a Query FSM state (C6).
type QueryState int

const (
	QueryIdle QueryState = iota
	QueryWaitingHello
	QuerySendingQuery
	QueryComplete
	QueryError
	QueryTimeout
)

func (s QueryState) String() string {
	switch s {
	case QueryWaitingHello:
		return "WAITING_HELLO"
	case QuerySendingQuery:
		return "SENDING_QUERY"
	case QueryComplete:
		return "COMPLETE"
	case QueryError:
		return "ERROR"
	case QueryTimeout:
		return "TIMEOUT"
	default:
		return "IDLE"
	}
}

// Query is the unicast variant of Discovery for a single known IP (C6).
type Query struct {
	endpoint *netudp.Endpoint
	registry *Registry

	mu        sync.Mutex
	state     QueryState
	cancel    context.CancelFunc
	done      chan struct{}
	resultIdx int
}

// NewQuery returns an idle Query bound to the shared endpoint and registry.
func NewQuery(endpoint *netudp.Endpoint, registry *Registry) *Query {
	return &Query{endpoint: endpoint, registry: registry, state: QueryIdle, resultIdx: -1}
}

func (fsm *Query) State() QueryState {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	return fsm.state
}

func (fsm *Query) IsInProgress() bool {
	s := fsm.State()
	return s == QueryWaitingHello || s == QuerySendingQuery
}

func (fsm *Query) IsComplete() bool {
	s := fsm.State()
	return s == QueryComplete || s == QueryError || s == QueryTimeout
}

// ResultIndex returns the registry index inserted on success, or -1.
func (fsm *Query) ResultIndex() int {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	return fsm.resultIdx
}

func (fsm *Query) setState(s QueryState) {
	fsm.mu.Lock()
	fsm.state = s
	fsm.mu.Unlock()
}

func (fsm *Query) Cancel() {
	fsm.mu.Lock()
	cancel := fsm.cancel
	fsm.state = QueryIdle
	fsm.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (fsm *Query) Wait() {
	fsm.mu.Lock()
	done := fsm.done
	fsm.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Start sends a unicast hello to ip every 500ms for up to 2s, then runs
// one miIO.info attempt with tokenHex on success.
func (fsm *Query) Start(ctx context.Context, ip net.IP, tokenHex string) {
	fsm.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	fsm.cancel = cancel
	fsm.state = QueryWaitingHello
	fsm.resultIdx = -1
	fsm.done = make(chan struct{})
	done := fsm.done
	fsm.mu.Unlock()

	go func() {
		defer close(done)
		fsm.run(runCtx, ip, tokenHex)
	}()
}

func (fsm *Query) run(ctx context.Context, ip net.IP, tokenHex string) {
	tok, ok := parseToken(tokenHex)
	if !ok {
		fsm.setState(QueryError)
		return
	}

	helloCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	ticker := time.NewTicker(helloResendInterval)
	defer ticker.Stop()
	hello := miio.HelloFrame()
	buf := make([]byte, 512)

	send := func() { _ = fsm.endpoint.SendTo(&net.UDPAddr{IP: ip, Port: netudp.Port}, hello) }
	send()

	var deviceID [4]byte
	var stamp uint32
	got := false

	for !got {
		select {
		case <-helloCtx.Done():
			fsm.setState(QueryTimeout)
			return
		case <-ticker.C:
			send()
		default:
		}
		readCtx, readCancel := context.WithTimeout(helloCtx, 50*time.Millisecond)
		n, addr, err := fsm.endpoint.ReceiveFrom(readCtx, buf)
		readCancel()
		if err != nil || !addr.IP.Equal(ip) || n != miio.HeaderLen {
			continue
		}
		deviceID, stamp, err = miio.ParseHelloReply(buf[:n])
		if err != nil {
			continue
		}
		got = true
	}

	fsm.setState(QuerySendingQuery)
	key, iv0 := miio.DeriveKeyIV(tok)
	q := miio.NewInfoQuery()
	payload, err := q.Marshal()
	if err != nil {
		fsm.setState(QueryError)
		return
	}
	frame, err := miio.EncodeFrame(deviceID, stamp+1, tok, key, iv0, payload)
	if err != nil {
		fsm.setState(QueryError)
		return
	}
	if err := fsm.endpoint.SendTo(&net.UDPAddr{IP: ip, Port: netudp.Port}, frame); err != nil {
		fsm.setState(QueryError)
		return
	}

	queryCtx, cancel2 := context.WithTimeout(ctx, infoQueryTimeout)
	defer cancel2()
	for {
		n, addr, err := fsm.endpoint.ReceiveFrom(queryCtx, buf)
		if err != nil {
			fsm.setState(QueryTimeout)
			return
		}
		if !addr.IP.Equal(ip) {
			continue
		}
		_, plain, decErr := miio.DecodeFrame(key, iv0, buf[:n])
		if decErr != nil {
			fsm.setState(QueryError)
			return
		}
		info, err := miio.ParseInfoResponse(plain)
		if err != nil {
			fsm.setState(QueryError)
			return
		}

		d := &DiscoveredDevice{
			IP:          append(net.IP{}, ip...),
			DeviceID:    deviceID,
			Model:       info.Model,
			TokenHex:    hex.EncodeToString(tok[:]),
			Token:       tok,
			FwVer:       info.FwVer,
			HwVer:       info.HwVer,
			UserEnabled: true,
		}
		idx := fsm.registry.Insert(d)
		if idx >= 0 {
			_ = fsm.registry.CacheCrypto(idx)
		}
		fsm.mu.Lock()
		fsm.resultIdx = idx
		fsm.mu.Unlock()
		fsm.setState(QueryComplete)
		return
	}
}
