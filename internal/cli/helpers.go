package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/flightbag/internal/catalog"
	"github.com/mesh-intelligence/flightbag/internal/metrics"
	"github.com/mesh-intelligence/flightbag/internal/sqlite"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// openService opens the catalog in the resolved data directory. The caller
// must Close it.
func (a *app) openService(ctx context.Context, m *metrics.Metrics) (*catalog.Service, error) {
	svc, err := catalog.Open(ctx, catalog.Options{
		Config:  a.cfg,
		Logger:  a.logger,
		Metrics: m,
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", a.cfg.DataDir, err)
	}
	return svc, nil
}

// withService runs fn against an open catalog.
func (a *app) withService(ctx context.Context, fn func(*catalog.Service) error) error {
	svc, err := a.openService(ctx, nil)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// findBag looks a bag up by id, then by name.
func findBag(ctx context.Context, store *sqlite.Store, ref string) (*types.Bag, error) {
	bag, err := store.GetBag(ctx, ref)
	if err == nil || !errors.Is(err, types.ErrNotFound) {
		return bag, err
	}
	bag, err = store.GetBagByName(ctx, ref)
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("bag %q: %w", ref, types.ErrNotFound)
	}
	return bag, err
}

// parseFlight parses "speed/glide/turn/fade[/stability]".
func parseFlight(s string) (types.Signature, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) < 4 || len(parts) > 5 {
		return types.Signature{}, fmt.Errorf("%w: flight %q must be speed/glide/turn/fade", types.ErrInvalidQuery, s)
	}
	nums := make([]float64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return types.Signature{}, fmt.Errorf("%w: flight %q: %q is not a number", types.ErrInvalidQuery, s, p)
		}
		nums[i] = n
	}
	sig := types.Signature{Speed: nums[0], Glide: nums[1], Turn: nums[2], Fade: nums[3]}
	if len(nums) == 5 {
		sig.Stability = &nums[4]
	}
	return sig, nil
}

// parseWeights applies "speed=2,turn=1" style overrides to base.
func parseWeights(s string, base types.Weights) (types.Weights, error) {
	w := base
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			return w, fmt.Errorf("%w: weight %q must be name=value", types.ErrInvalidQuery, kv)
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return w, fmt.Errorf("%w: weight %q: %q is not a number", types.ErrInvalidQuery, k, v)
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "speed":
			w.Speed = n
		case "glide":
			w.Glide = n
		case "turn":
			w.Turn = n
		case "fade":
			w.Fade = n
		case "stability":
			w.Stability = n
		default:
			return w, fmt.Errorf("%w: unknown weight %q", types.ErrInvalidQuery, k)
		}
	}
	return w, nil
}

func formatSignature(s types.Signature) string {
	out := fmt.Sprintf("%s/%s/%s/%s", num(s.Speed), num(s.Glide), num(s.Turn), num(s.Fade))
	if s.Stability != nil {
		out += "/" + num(*s.Stability)
	}
	return out
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
