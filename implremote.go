package ui

import (
	"context"
	"image"
	"net"
	"net/rpc"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Yeicor/toy-ui/internal"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const remoteQueueSize = 256

// engineClient implements Engine by calling a remote implementation (using Go's net/rpc).
// Calls are fire-and-forget but keep their order: a single worker sends them one after the other.
type engineClient struct {
	cl  *rpc.Client
	ops chan remoteOp
	log *zap.Logger

	cbLock    sync.RWMutex
	onSuccess func(entryPoints []string)
	onError   func(summary string, row, col int)

	frameLock       sync.RWMutex
	frame           *image.RGBA
	framesSupported atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

type remoteOp struct {
	method string
	args   interface{}
	reply  interface{}
	after  func(err error) // Runs on the worker
}

// newEngineClient see engineClient
func newEngineClient(client *rpc.Client) *engineClient {
	d := &engineClient{
		cl:   client,
		ops:  make(chan remoteOp, remoteQueueSize),
		log:  logger("remote"),
		done: make(chan struct{}),
	}
	d.framesSupported.Store(true)
	go d.worker()
	return d
}

func (d *engineClient) worker() {
	for {
		select {
		case <-d.done:
			return
		case op := <-d.ops:
			err := d.cl.Call("EngineService."+op.method, op.args, op.reply)
			if op.after != nil {
				op.after(err)
			} else if err != nil {
				d.log.Warn("remote call failed", zap.String("method", op.method), zap.Error(err))
			}
		}
	}
}

func (d *engineClient) enqueue(op remoteOp) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.ops <- op:
		return true
	default:
		d.log.Warn("remote engine is too slow, dropping call", zap.String("method", op.method))
		return false
	}
}

func (d *engineClient) call(method string, args interface{}) {
	var ignoreMe int
	d.enqueue(remoteOp{method: method, args: args, reply: &ignoreMe})
}

// SetShader reports exactly one result per call, also when the call could not be sent.
func (d *engineClient) SetShader(source string) {
	res := &internal.CompileResult{}
	queued := d.enqueue(remoteOp{method: "SetShader", args: source, reply: res, after: func(err error) {
		d.report(res, err)
	}})
	if !queued {
		d.report(res, errors.New("remote engine queue is full or closed"))
	}
}

func (d *engineClient) report(res *internal.CompileResult, err error) {
	d.cbLock.RLock()
	onSuccess, onError := d.onSuccess, d.onError
	d.cbLock.RUnlock()
	switch {
	case err != nil:
		if onError != nil {
			onError(err.Error(), 0, 0)
		}
	case res.Success:
		if onSuccess != nil {
			onSuccess(res.EntryPoints)
		}
	default:
		if onError != nil {
			onError(res.Summary, res.Row, res.Col)
		}
	}
}

func (d *engineClient) SetCustomFloats(ctx context.Context, names []string, values []float32) error {
	result := make(chan error, 1)
	var ignoreMe int
	queued := d.enqueue(remoteOp{
		method: "SetCustomFloats",
		args:   internal.CustomFloatsArgs{Names: names, Values: values},
		reply:  &ignoreMe,
		after:  func(err error) { result <- err },
	})
	if !queued {
		return errors.New("remote engine queue is full or closed")
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *engineClient) Render() {
	var ignoreMe int
	d.enqueue(remoteOp{method: "Render", args: 0, reply: &ignoreMe, after: func(err error) {
		if err != nil {
			d.log.Warn("remote call failed", zap.String("method", "Render"), zap.Error(err))
			return
		}
		d.pullFrame()
	}})
}

// pullFrame downloads the frame that was just rendered (runs on the worker).
func (d *engineClient) pullFrame() {
	if !d.framesSupported.Load() {
		return
	}
	var res internal.FrameResult
	if err := d.cl.Call("EngineService.Frame", 0, &res); err != nil {
		d.log.Warn("remote call failed", zap.String("method", "Frame"), zap.Error(err))
		return
	}
	if !res.Supported {
		d.framesSupported.Store(false)
		return
	}
	d.frameLock.Lock()
	d.frame = res.Frame
	d.frameLock.Unlock()
}

// Frame returns the latest frame downloaded from the remote engine (nil if none or unsupported).
func (d *engineClient) Frame() *image.RGBA {
	d.frameLock.RLock()
	defer d.frameLock.RUnlock()
	return d.frame
}

func (d *engineClient) SetTimeElapsed(seconds float32) {
	d.call("SetTimeElapsed", seconds)
}

func (d *engineClient) Reset() {
	d.call("Reset", 0)
}

func (d *engineClient) Resize(width, height int, scale float32) {
	d.call("Resize", internal.ResizeArgs{Width: width, Height: height, Scale: scale})
}

func (d *engineClient) LoadChannel(index int, data []byte) {
	d.call("LoadChannel", internal.ChannelArgs{Index: index, Data: data})
}

func (d *engineClient) LoadChannelHDR(index int, data []byte) {
	d.call("LoadChannel", internal.ChannelArgs{Index: index, HDR: true, Data: data})
}

func (d *engineClient) SetMousePos(x, y float32) {
	d.call("SetMousePos", internal.MousePosArgs{X: x, Y: y})
}

func (d *engineClient) SetMouseClick(pressed bool) {
	d.call("SetMouseClick", pressed)
}

func (d *engineClient) SetKeydown(code int, pressed bool) {
	d.call("SetKeydown", internal.KeyArgs{Code: code, Pressed: pressed})
}

func (d *engineClient) OnSuccess(cb func(entryPoints []string)) {
	d.cbLock.Lock()
	defer d.cbLock.Unlock()
	d.onSuccess = cb
}

func (d *engineClient) OnError(cb func(summary string, row, col int)) {
	d.cbLock.Lock()
	defer d.cbLock.Unlock()
	d.onError = cb
}

// Shutdown asks the remote process to stop.
func (d *engineClient) Shutdown(timeout time.Duration) error {
	var out int
	return d.cl.Call("EngineService.Shutdown", timeout, &out)
}

// Close stops sending calls and closes the connection.
func (d *engineClient) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		err = d.cl.Close()
	})
	return err
}

// dialRemote connects to a remote engine, retrying until it is reachable or the controller is unmounted.
func (c *Controller) dialRemote(ctx context.Context, network, addr string) {
	log := logger("remote").With(zap.String("addr", addr))
	var client *rpc.Client
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // Until unmounted
	err := backoff.RetryNotify(func() error {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return err
		}
		client = rpc.NewClient(conn)
		return nil
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.Info("remote engine not reachable yet", zap.Error(err), zap.Duration("retryIn", next))
	})
	if err != nil {
		log.Warn("gave up connecting to the remote engine", zap.Error(err))
		return
	}
	log.Info("connected to the remote engine")
	engine := newEngineClient(client)
	c.post(func() {
		c.ownedEngine = engine
		c.store.Engine.Set(internal.Ready(engine))
	})
	<-ctx.Done()
	_ = engine.Close() // Also closed when unmounting, in case the continuation above never ran
}

// NewEngineServer serves impl for a controller configured with OptRemoteEngine, until a Shutdown request (sent on
// done) or an error of the listener.
func NewEngineServer(impl Engine, listener net.Listener, done chan os.Signal) error {
	server := internal.NewEngineService(impl, done)
	errs := make(chan error, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				errs <- err
				return
			}
			go server.ServeConn(conn)
		}
	}()
	select {
	case <-done:
		return listener.Close()
	case err := <-errs:
		return errors.Wrap(err, "accept")
	}
}
