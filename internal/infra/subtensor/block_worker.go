package subtensor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sarna320/scalp/internal/infra"
)

// BlockEvent is one finalized chain head, the engine's clock tick.
type BlockEvent struct {
	Number int64
}

// BlockWorker subscribes to chain_subscribeNewHeads over the node's
// websocket RPC and feeds block events into the inbox. It reconnects
// with exponential backoff and resubscribes after every reconnect.
// Events that arrive while the inbox is full are dropped: a block tick
// carries no payload, so the next head supersedes it.
type BlockWorker struct {
	url   string
	inbox chan<- BlockEvent

	mu     sync.RWMutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ReadTimeout time.Duration
}

// NewBlockWorker creates a worker feeding the given inbox.
func NewBlockWorker(url string, inbox chan<- BlockEvent) *BlockWorker {
	return &BlockWorker{
		url:         url,
		inbox:       inbox,
		ReadTimeout: 60 * time.Second,
	}
}

// Start initiates the connection loop.
func (w *BlockWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker.
func (w *BlockWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

func (w *BlockWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("BLOCK_WS_CONNECT_FAILED", "err", err, "retry", retry)
			delay := infra.CalculateBackoff(retry)
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		w.process(ctx)
	}
}

// rpcEnvelope covers both the subscription ack and head notifications.
type rpcEnvelope struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type chainHead struct {
	Number string `json:"number"` // hex-encoded
}

func (w *BlockWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}

	sub := `{"jsonrpc":"2.0","id":1,"method":"chain_subscribeNewHeads","params":[]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	// The ack must arrive before head notifications are trusted.
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribe ack read failed: %w", err)
	}
	var ack rpcEnvelope
	if err := json.Unmarshal(msg, &ack); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe ack parse failed: %w", err)
	}
	if ack.Error != nil {
		conn.Close()
		return fmt.Errorf("subscribe rejected: %s", ack.Error.Message)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	slog.Info("BLOCK_WS_CONNECTED", "url", w.url)
	return nil
}

func (w *BlockWorker) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("BLOCK_WS_READ_ERROR", "err", err)
			w.close()
			return
		}

		w.onMessage(msg)
	}
}

func (w *BlockWorker) onMessage(msg []byte) {
	var env rpcEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		slog.Warn("BLOCK_WS_BAD_MESSAGE", "err", err)
		return
	}
	if env.Method != "chain_newHead" || env.Params.Result == nil {
		return
	}

	var head chainHead
	if err := json.Unmarshal(env.Params.Result, &head); err != nil {
		slog.Warn("BLOCK_WS_BAD_HEAD", "err", err)
		return
	}

	number, err := parseHexNumber(head.Number)
	if err != nil {
		slog.Warn("BLOCK_WS_BAD_HEAD_NUMBER", "number", head.Number, "err", err)
		return
	}

	select {
	case w.inbox <- BlockEvent{Number: number}:
	default:
		slog.Debug("BLOCK_EVENT_DROPPED", "number", number)
	}
}

func parseHexNumber(s string) (int64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty block number")
	}
	return strconv.ParseInt(s, 16, 64)
}

func (w *BlockWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
