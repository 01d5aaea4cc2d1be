// Package verify implements the verification task a lifecycle hook runs
// against a freshly deployed workload: wait for liveness, exercise the
// prediction path once, and report a single pass/fail verdict.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"k8s.io/utils/clock"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ia-eknorr/shipgate/internal/poll"
)

// Report summarizes one verification run.
type Report struct {
	Health     Health
	Prediction Prediction
	Metrics    bool
}

// Verifier runs the verification steps once.
type Verifier struct {
	Config Config
	Client *Client
	Sample Sample

	// Clock defaults to the real clock.
	Clock clock.Clock
}

// NewVerifier builds a Verifier from cfg, loading the sample image.
func NewVerifier(cfg Config) (*Verifier, error) {
	sample, err := LoadSample(cfg.SampleFile)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		Config: cfg,
		Client: NewClient(cfg.BaseURL, cfg.RequestTimeout),
		Sample: sample,
	}, nil
}

// Run waits for liveness, then exercises the prediction path once and, when
// configured, the metrics endpoint. Any error is a Fail verdict.
func (v *Verifier) Run(ctx context.Context) (Report, error) {
	log := logf.FromContext(ctx).WithName("verify").WithValues("baseURL", v.Config.BaseURL)
	var report Report

	var lastErr error
	poller := poll.Poller{Interval: v.Config.PollInterval, Timeout: v.Config.ReadyTimeout, Clock: v.Clock}
	err := poller.Until(ctx, func(ctx context.Context) (bool, error) {
		h, err := v.Client.Health(ctx, v.Config.HealthPath)
		if err != nil {
			lastErr = err
			log.V(1).Info("not ready", "error", err.Error())
			return false, nil
		}
		if h.Status != "ok" {
			lastErr = fmt.Errorf("%s reported status %q", v.Config.HealthPath, h.Status)
			return false, nil
		}
		report.Health = h
		return true, nil
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) && lastErr != nil {
			return report, fmt.Errorf("workload not ready within %s: %w", v.Config.ReadyTimeout, lastErr)
		}
		return report, fmt.Errorf("waiting for workload: %w", err)
	}
	log.Info("workload ready", "app", report.Health.App, "classes", len(report.Health.ClassMapping))

	pred, err := v.Client.Predict(ctx, v.Config.PredictPath, v.Sample.Filename, v.Sample.ContentType, v.Sample.Data)
	if err != nil {
		return report, fmt.Errorf("prediction request failed: %w", err)
	}
	if err := validatePrediction(pred, report.Health.ClassMapping); err != nil {
		return report, err
	}
	report.Prediction = pred
	log.Info("prediction ok", "label", pred.Label, "probability", *pred.Probability)

	if v.Config.MetricsPath != "" {
		body, err := v.Client.Metrics(ctx, v.Config.MetricsPath)
		if err != nil {
			return report, fmt.Errorf("metrics check failed: %w", err)
		}
		if !looksLikeExposition(body) {
			return report, fmt.Errorf("%s returned no metric samples", v.Config.MetricsPath)
		}
		report.Metrics = true
	}

	return report, nil
}

func validatePrediction(p Prediction, classes map[string]int) error {
	if strings.TrimSpace(p.Label) == "" {
		return fmt.Errorf("malformed prediction: empty label")
	}
	if len(classes) > 0 {
		if _, ok := classes[p.Label]; !ok {
			known := make([]string, 0, len(classes))
			for k := range classes {
				known = append(known, k)
			}
			sort.Strings(known)
			return fmt.Errorf("malformed prediction: label %q not in %v", p.Label, known)
		}
	}
	if p.Probability == nil {
		return fmt.Errorf("malformed prediction: missing probability")
	}
	if pr := *p.Probability; math.IsNaN(pr) || pr < 0 || pr > 1 {
		return fmt.Errorf("malformed prediction: probability %v outside [0,1]", pr)
	}
	return nil
}

// looksLikeExposition reports whether body has at least one sample line of
// the Prometheus text format.
func looksLikeExposition(body string) bool {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return true
		}
	}
	return false
}
