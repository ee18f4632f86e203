package network

import (
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
)

// Activation is a pointwise nonlinearity with its derivative, both evaluated at
// the pre-activation value.
type Activation struct {
	Name  string
	Func  func(x float64) float64
	Deriv func(x float64) float64
}

var activationRegistry = struct {
	mu sync.RWMutex
	m  map[string]Activation
}{
	m: make(map[string]Activation),
}

func init() {
	initializeBuiltInActivations()
}

func initializeBuiltInActivations() {
	MustRegisterActivation(Activation{
		Name:  "identity",
		Func:  func(x float64) float64 { return x },
		Deriv: func(float64) float64 { return 1 },
	})
	MustRegisterActivation(Activation{
		Name: "relu",
		Func: relu,
		Deriv: func(x float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		},
	})
	MustRegisterActivation(Activation{
		Name: "tanh",
		Func: math.Tanh,
		Deriv: func(x float64) float64 {
			y := math.Tanh(x)
			return 1 - y*y
		},
	})
	MustRegisterActivation(Activation{
		Name: "sigmoid",
		Func: sigmoid,
		Deriv: func(x float64) float64 {
			y := sigmoid(x)
			return y * (1 - y)
		},
	})
	MustRegisterActivation(Activation{
		Name: "elu",
		Func: func(x float64) float64 {
			if x > 0 {
				return x
			}
			return math.Exp(x) - 1
		},
		Deriv: func(x float64) float64 {
			if x > 0 {
				return 1
			}
			return math.Exp(x)
		},
	})
}

func RegisterActivation(a Activation) error {
	if a.Name == "" {
		return errors.New("activation name is required")
	}
	if a.Func == nil || a.Deriv == nil {
		return errors.New("activation function and derivative are required")
	}

	activationRegistry.mu.Lock()
	defer activationRegistry.mu.Unlock()

	if _, exists := activationRegistry.m[a.Name]; exists {
		return errors.Wrap(ErrActivationExists, a.Name)
	}
	activationRegistry.m[a.Name] = a
	return nil
}

func MustRegisterActivation(a Activation) {
	if err := RegisterActivation(a); err != nil {
		panic(err)
	}
}

func GetActivation(name string) (Activation, error) {
	activationRegistry.mu.RLock()
	a, ok := activationRegistry.m[name]
	activationRegistry.mu.RUnlock()
	if !ok {
		return Activation{}, errors.Wrap(ErrActivationNotFound, name)
	}
	return a, nil
}

func ListActivations() []string {
	activationRegistry.mu.RLock()
	defer activationRegistry.mu.RUnlock()

	names := make([]string, 0, len(activationRegistry.m))
	for name := range activationRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetActivationRegistryForTests() {
	activationRegistry.mu.Lock()
	activationRegistry.m = make(map[string]Activation)
	activationRegistry.mu.Unlock()
	initializeBuiltInActivations()
}

func relu(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
