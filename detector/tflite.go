package detector

import (
	"fmt"
	"math"
	"sync"

	"github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates/edgetpu"
	"go.uber.org/zap"
)

// TFLiteBackend runs a .tflite model on the CPU or on the first Edge TPU found.
type TFLiteBackend struct {
	mu     sync.Mutex
	model  *tflite.Model
	interp *tflite.Interpreter
	input  []int
	output []int
	logger *zap.Logger
}

type TFLiteOptions struct {
	NumThreads int
	UseEdgeTPU bool
}

func getTensorShape(tensor *tflite.Tensor) []int {
	shape := []int{}
	for idx := 0; idx < tensor.NumDims(); idx++ {
		shape = append(shape, tensor.Dim(idx))
	}
	return shape
}

func NewTFLiteBackend(modelPath string, opts TFLiteOptions, logger *zap.Logger) (*TFLiteBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := tflite.NewModelFromFile(modelPath)
	if model == nil {
		return nil, fmt.Errorf("cannot load model %s", modelPath)
	}

	options := tflite.NewInterpreterOptions()
	defer options.Delete()

	if opts.NumThreads <= 0 {
		opts.NumThreads = 4
	}
	options.SetNumThread(opts.NumThreads)

	if opts.UseEdgeTPU {
		devices, err := edgetpu.DeviceList()
		if err != nil {
			logger.Warn("could not list Edge TPU devices", zap.Error(err))
		}
		if len(devices) == 0 {
			logger.Info("no Edge TPU device found, running on CPU")
		} else {
			options.AddDelegate(edgetpu.New(devices[0]))
		}
	}

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, fmt.Errorf("cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("allocate tensors failed: %v", status)
	}
	if interpreter.GetInputTensorCount() < 1 || interpreter.GetOutputTensorCount() < 1 {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("model must have at least one input and one output tensor")
	}

	in := interpreter.GetInputTensor(0)
	out := interpreter.GetOutputTensor(0)
	b := &TFLiteBackend{
		model:  model,
		interp: interpreter,
		input:  getTensorShape(in),
		output: getTensorShape(out),
		logger: logger,
	}
	logger.Info("model loaded",
		zap.String("model", modelPath),
		zap.Ints("input", b.input), zap.String("inputType", fmt.Sprint(in.Type())),
		zap.Ints("output", b.output), zap.String("outputType", fmt.Sprint(out.Type())),
		zap.Int("threads", opts.NumThreads))
	return b, nil
}

func (b *TFLiteBackend) InputShape() []int  { return append([]int(nil), b.input...) }
func (b *TFLiteBackend) OutputShape() []int { return append([]int(nil), b.output...) }

// Infer copies input into the interpreter, invokes it and copies the first output out.
// Quantized uint8 tensors are (de)quantized with the tensor's own parameters.
func (b *TFLiteBackend) Infer(input Tensor) (Tensor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.interp == nil {
		return Tensor{}, inferenceErrorf(ErrBackendClosed, "invoke")
	}
	in := b.interp.GetInputTensor(0)
	if want := (Tensor{Shape: b.input}).Size(); len(input.Data) != want {
		return Tensor{}, inferenceErrorf(nil, "input has %d values, model wants %d (%v)", len(input.Data), want, b.input)
	}
	switch in.Type() {
	case tflite.Float32:
		in.SetFloat32s(input.Data)
	case tflite.UInt8:
		in.SetUint8s(quantize(input.Data, in.QuantizationParams()))
	default:
		return Tensor{}, inferenceErrorf(nil, "unsupported input tensor type %v", in.Type())
	}

	if status := b.interp.Invoke(); status != tflite.OK {
		return Tensor{}, inferenceErrorf(nil, "invoke failed: %v", status)
	}

	out := b.interp.GetOutputTensor(0)
	var data []float32
	switch out.Type() {
	case tflite.Float32:
		f := out.Float32s()
		data = make([]float32, len(f))
		copy(data, f)
	case tflite.UInt8:
		data = dequantize(out.UInt8s(), out.QuantizationParams())
	default:
		return Tensor{}, inferenceErrorf(nil, "unsupported output tensor type %v", out.Type())
	}
	return Tensor{Shape: b.OutputShape(), Data: data}, nil
}

func (b *TFLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interp != nil {
		b.interp.Delete()
		b.interp = nil
	}
	if b.model != nil {
		b.model.Delete()
		b.model = nil
	}
	return nil
}

func quantize(v []float32, qp tflite.QuantizationParams) []uint8 {
	out := make([]uint8, len(v))
	for i, f := range v {
		var q float64
		if qp.Scale == 0 {
			q = float64(f) * 255
		} else {
			q = float64(f)/qp.Scale + float64(qp.ZeroPoint)
		}
		out[i] = uint8(math.Max(0, math.Min(255, math.Round(q))))
	}
	return out
}

func dequantize(v []uint8, qp tflite.QuantizationParams) []float32 {
	out := make([]float32, len(v))
	for i, q := range v {
		if qp.Scale == 0 {
			out[i] = float32(q) / 255
		} else {
			out[i] = float32((float64(q) - float64(qp.ZeroPoint)) * qp.Scale)
		}
	}
	return out
}
