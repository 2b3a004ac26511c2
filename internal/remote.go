package internal

import (
	"context"
	"image"
	"net/rpc"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultRemoteCompileTimeout bounds how long EngineService.SetShader waits for the engine's compile callbacks.
// It is shorter than the default compile timeout of the controller, which then receives the failure itself.
const DefaultRemoteCompileTimeout = 8 * time.Second

// EngineService is an internal struct that has to be exported for RPC.
// It is the server counterpart to the remote engine client, providing remote access to an Engine.
type EngineService struct {
	impl           Engine
	compileMu      sync.Mutex // One compilation at a time, so that results pair with requests
	results        chan CompileResult
	compileTimeout time.Duration
	done           chan os.Signal
}

// NewEngineService see EngineService
func NewEngineService(impl Engine, done chan os.Signal) *rpc.Server {
	server := rpc.NewServer()
	err := server.Register(newEngineService(impl, done, DefaultRemoteCompileTimeout))
	if err != nil {
		panic(err) // Shouldn't happen (only on bad implementation)
	}
	return server
}

func newEngineService(impl Engine, done chan os.Signal, compileTimeout time.Duration) *EngineService {
	srv := &EngineService{
		impl:           impl,
		results:        make(chan CompileResult, 1),
		compileTimeout: compileTimeout,
		done:           done,
	}
	impl.OnSuccess(func(entryPoints []string) {
		srv.publish(CompileResult{Success: true, EntryPoints: entryPoints})
	})
	impl.OnError(func(summary string, row, col int) {
		srv.publish(CompileResult{Summary: summary, Row: row, Col: col})
	})
	return srv
}

func (d *EngineService) publish(res CompileResult) {
	select {
	case d.results <- res:
	default:
		Logger().Named("remote").Warn("dropping unrequested compile result", zap.Bool("success", res.Success))
	}
}

// CompileResult is an internal struct that has to be exported for RPC.
type CompileResult struct {
	Success     bool
	EntryPoints []string
	Summary     string
	Row, Col    int
}

// CustomFloatsArgs is an internal struct that has to be exported for RPC.
type CustomFloatsArgs struct {
	Names  []string
	Values []float32
}

// ResizeArgs is an internal struct that has to be exported for RPC.
type ResizeArgs struct {
	Width, Height int
	Scale         float32
}

// ChannelArgs is an internal struct that has to be exported for RPC.
type ChannelArgs struct {
	Index int
	HDR   bool
	Data  []byte
}

// MousePosArgs is an internal struct that has to be exported for RPC.
type MousePosArgs struct {
	X, Y float32
}

// KeyArgs is an internal struct that has to be exported for RPC.
type KeyArgs struct {
	Code    int
	Pressed bool
}

// FrameResult is an internal struct that has to be exported for RPC.
type FrameResult struct {
	Supported bool
	Frame     *image.RGBA
}

// SetShader is an internal method that has to be exported for RPC.
// SetShader compiles the source and waits for the engine to report the result.
func (d *EngineService) SetShader(source string, out *CompileResult) error {
	d.compileMu.Lock()
	defer d.compileMu.Unlock()
	select { // Forget results nobody asked for
	case <-d.results:
	default:
	}
	d.impl.SetShader(source)
	select {
	case res := <-d.results:
		*out = res
		return nil
	case <-time.After(d.compileTimeout):
		return errors.Errorf("compile result not reported after %s", d.compileTimeout)
	}
}

// SetCustomFloats is an internal method that has to be exported for RPC.
func (d *EngineService) SetCustomFloats(args CustomFloatsArgs, _ *int) error {
	if len(args.Names) != len(args.Values) {
		return errors.Errorf("got %d uniform names but %d values", len(args.Names), len(args.Values))
	}
	return d.impl.SetCustomFloats(context.Background(), args.Names, args.Values)
}

// Render is an internal method that has to be exported for RPC.
func (d *EngineService) Render(_ int, _ *int) error {
	d.impl.Render()
	return nil
}

// SetTimeElapsed is an internal method that has to be exported for RPC.
func (d *EngineService) SetTimeElapsed(seconds float32, _ *int) error {
	d.impl.SetTimeElapsed(seconds)
	return nil
}

// Reset is an internal method that has to be exported for RPC.
func (d *EngineService) Reset(_ int, _ *int) error {
	d.impl.Reset()
	return nil
}

// Resize is an internal method that has to be exported for RPC.
func (d *EngineService) Resize(args ResizeArgs, _ *int) error {
	if args.Width <= 0 || args.Height <= 0 || args.Scale <= 0 {
		return errors.Errorf("invalid size %dx%d@%g", args.Width, args.Height, args.Scale)
	}
	d.impl.Resize(args.Width, args.Height, args.Scale)
	return nil
}

// LoadChannel is an internal method that has to be exported for RPC.
func (d *EngineService) LoadChannel(args ChannelArgs, _ *int) error {
	if args.HDR {
		d.impl.LoadChannelHDR(args.Index, args.Data)
	} else {
		d.impl.LoadChannel(args.Index, args.Data)
	}
	return nil
}

// SetMousePos is an internal method that has to be exported for RPC.
func (d *EngineService) SetMousePos(args MousePosArgs, _ *int) error {
	d.impl.SetMousePos(args.X, args.Y)
	return nil
}

// SetMouseClick is an internal method that has to be exported for RPC.
func (d *EngineService) SetMouseClick(pressed bool, _ *int) error {
	d.impl.SetMouseClick(pressed)
	return nil
}

// SetKeydown is an internal method that has to be exported for RPC.
func (d *EngineService) SetKeydown(args KeyArgs, _ *int) error {
	d.impl.SetKeydown(args.Code, args.Pressed)
	return nil
}

// Frame is an internal method that has to be exported for RPC.
// Frame returns the latest rendered frame, if the engine implements Framer.
func (d *EngineService) Frame(_ int, out *FrameResult) error {
	framer, ok := d.impl.(Framer)
	if !ok {
		out.Supported = false
		return nil
	}
	out.Supported = true
	out.Frame = framer.Frame()
	return nil
}

// Shutdown is an internal method that has to be exported for RPC.
// Shutdown sends a signal on the configured channel (with a timeout)
func (d *EngineService) Shutdown(t time.Duration, _ *int) error {
	select {
	case d.done <- os.Kill:
		return nil
	case <-time.After(t):
		return errors.New("shutdown timeout")
	}
}
