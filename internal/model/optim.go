package model

import (
	"math"

	"github.com/pkg/errors"
)

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultAdamConfig returns the settings commonly used for DCGAN training.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.0002,
		Beta1:        0.5,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam implements the Adam update rule over a fixed parameter set.
type Adam struct {
	cfg    AdamConfig
	params []*Param
	m      [][]float64
	v      [][]float64
	steps  int
}

// NewAdam binds an Adam optimizer to params.
func NewAdam(params []*Param, cfg AdamConfig) *Adam {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 1e-8
	}
	a := &Adam{
		cfg:    cfg,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		n := len(p.Value.RawMatrix().Data)
		a.m[i] = make([]float64, n)
		a.v[i] = make([]float64, n)
	}
	return a
}

// Steps reports how many updates have been applied.
func (a *Adam) Steps() int { return a.steps }

func (a *Adam) Step() error {
	a.steps++
	c1 := 1 - math.Pow(a.cfg.Beta1, float64(a.steps))
	c2 := 1 - math.Pow(a.cfg.Beta2, float64(a.steps))
	for i, p := range a.params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		if len(w) != len(g) || len(w) != len(a.m[i]) {
			return errors.Errorf("adam: parameter %s changed shape", p.Name)
		}
		m, v := a.m[i], a.v[i]
		for j := range w {
			m[j] = a.cfg.Beta1*m[j] + (1-a.cfg.Beta1)*g[j]
			v[j] = a.cfg.Beta2*v[j] + (1-a.cfg.Beta2)*g[j]*g[j]
			w[j] -= a.cfg.LearningRate * (m[j] / c1) / (math.Sqrt(v[j]/c2) + a.cfg.Epsilon)
		}
	}
	return nil
}

// SGD is stochastic gradient descent with optional momentum.
type SGD struct {
	LearningRate float64
	Momentum     float64
	params       []*Param
	velocity     [][]float64
}

func NewSGD(params []*Param, lr, momentum float64) *SGD {
	s := &SGD{
		LearningRate: lr,
		Momentum:     momentum,
		params:       params,
		velocity:     make([][]float64, len(params)),
	}
	for i, p := range params {
		s.velocity[i] = make([]float64, len(p.Value.RawMatrix().Data))
	}
	return s
}

func (s *SGD) Step() error {
	for i, p := range s.params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		if len(w) != len(g) || len(w) != len(s.velocity[i]) {
			return errors.Errorf("sgd: parameter %s changed shape", p.Name)
		}
		vel := s.velocity[i]
		for j := range w {
			vel[j] = s.Momentum*vel[j] + g[j]
			w[j] -= s.LearningRate * vel[j]
		}
	}
	return nil
}
