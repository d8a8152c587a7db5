package zerohack

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// modelRunner scores one flattened batch. Implementations must be safe for
// concurrent Run calls.
type modelRunner interface {
	Run(input []float32, inputShape, outputShape []int64) ([]float32, error)
	Close() error
}

// ortEnv guards process-wide ONNX Runtime initialization. The shared library
// path is fixed by whichever caller gets there first.
var ortEnv struct {
	once sync.Once
	err  error
}

func initONNXRuntime(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// onnxRunner wraps one inference session over an exported model file.
type onnxRunner struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
}

func newONNXRunner(modelPath, libPath string) (*onnxRunner, error) {
	if err := initONNXRuntime(libPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model info for %s: %w", filepath.Base(modelPath), err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model %s lacks inputs or outputs", filepath.Base(modelPath))
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(2); err != nil {
		return nil, fmt.Errorf("onnx: set intra-op threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("onnx: set inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session for %s: %w", filepath.Base(modelPath), err)
	}

	return &onnxRunner{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
	}, nil
}

func (r *onnxRunner) Run(input []float32, inputShape, outputShape []int64) ([]float32, error) {
	in, err := ort.NewTensor(ort.NewShape(inputShape...), input)
	if err != nil {
		return nil, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		return nil, fmt.Errorf("onnx: output tensor: %w", err)
	}
	defer out.Destroy()

	if err := r.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	src := out.GetData()
	result := make([]float32, len(src))
	copy(result, src)
	return result, nil
}

func (r *onnxRunner) Close() error { return r.session.Destroy() }
