package reload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"watchreload/internal/logging"
	"watchreload/internal/metrics"
	"watchreload/internal/module"
	"watchreload/internal/otel"
	"watchreload/internal/watcher"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
)

// ReloadModule purges loader's cache entry for sourcePath, loads it again,
// merges the members into exports and then calls onReload. It does not need
// a watch and does not notify bus listeners.
func (r *Registry) ReloadModule(ctx context.Context, sourcePath string, loader module.Loader, exports *module.Exports, subModule string, onReload func()) (err error) {
	if loader == nil {
		return ErrLoaderRequired
	}
	resolved, err := loader.Resolve(sourcePath)
	if err != nil {
		return err
	}

	start := time.Now()
	ctx, span := otel.StartReloadSpan(ctx, resolved, metrics.TriggerManual)
	logger := r.logger.ForModule(sourcePath, resolved)
	defer func() {
		elapsed := time.Since(start)
		r.metrics.RecordReload(resolved, metrics.TriggerManual, elapsed, err)
		logger.Reloaded(metrics.TriggerManual, 1, elapsed, err)
		otel.EndSpan(span, err)
	}()

	loader.Invalidate(resolved)
	logger.Info("reload module", nil)
	if err := r.apply(ctx, sourcePath, loader, exports, subModule); err != nil {
		return err
	}
	if onReload != nil {
		onReload()
	}
	return nil
}

// handleChange runs one reload for a change event on resolvedPath: purge,
// reload every target in order, then notify listeners.
func (r *Registry) handleChange(ctx context.Context, resolvedPath string, change watcher.Change) (err error) {
	targets := r.Targets(resolvedPath)

	start := time.Now()
	ctx, span := otel.StartReloadSpan(ctx, resolvedPath, metrics.TriggerWatch,
		attribute.Int(otel.AttrTargets, len(targets)),
		attribute.String("fs.op", change.Op.String()),
	)
	defer func() {
		elapsed := time.Since(start)
		r.metrics.RecordReload(resolvedPath, metrics.TriggerWatch, elapsed, err)
		// Failures are logged by reportError.
		if err == nil {
			r.logger.With(map[string]string{logging.FieldPath: resolvedPath}).
				Reloaded(metrics.TriggerWatch, len(targets), elapsed, nil)
		}
		otel.EndSpan(span, err)
	}()

	listenerLoaders := r.ListenerLoaders(resolvedPath)
	r.invalidate(resolvedPath, targets, listenerLoaders)

	if len(targets) > 0 {
		err = r.reloadTargets(ctx, targets)
	} else {
		err = r.bareReload(resolvedPath, listenerLoaders)
	}
	if err != nil && !r.isolate {
		return err
	}

	r.bus.Emit(resolvedPath, Notification{
		ID:      ulid.Make().String(),
		Path:    resolvedPath,
		Op:      change.Op.String(),
		Targets: len(targets),
		At:      change.Timestamp,
	})
	return err
}

func (r *Registry) reloadTargets(ctx context.Context, targets []Target) error {
	var errs []error
	for _, target := range targets {
		r.logger.ForModule(target.SourcePath, target.ResolvedPath).Info("reload export", nil)
		if err := r.apply(ctx, target.SourcePath, target.Loader, target.Exports, target.SubModule); err != nil {
			if !r.isolate {
				return err
			}
			errs = append(errs, err)
			continue
		}
		if target.OnReload != nil {
			target.OnReload()
		}
	}
	return errors.Join(errs...)
}

// invalidate purges resolvedPath from every loader that may have cached it:
// target loaders, listener loaders and the fallback, each once.
func (r *Registry) invalidate(resolvedPath string, targets []Target, listenerLoaders []module.Loader) {
	loaders := make([]module.Loader, 0, len(targets)+len(listenerLoaders)+1)
	for _, target := range targets {
		loaders = append(loaders, target.Loader)
	}
	loaders = append(loaders, listenerLoaders...)
	loaders = append(loaders, r.fallback)

	purged := make([]module.Loader, 0, len(loaders))
	for _, loader := range loaders {
		seen := false
		for _, done := range purged {
			if sameLoader(done, loader) {
				seen = true
				break
			}
		}
		if seen {
			continue
		}
		loader.Invalidate(resolvedPath)
		purged = append(purged, loader)
	}
}

// bareReload refreshes a path that only has bus listeners, so a loader cache
// is warm before they run. The first listener loader is used; the fallback
// only serves when none was registered.
func (r *Registry) bareReload(resolvedPath string, listenerLoaders []module.Loader) error {
	loader := r.fallback
	if len(listenerLoaders) > 0 {
		loader = listenerLoaders[0]
	}
	r.logger.Info("reload module", map[string]string{
		logging.FieldPath: resolvedPath,
	})
	if _, err := loader.Load(resolvedPath); err != nil {
		return fmt.Errorf("reload %q: %w", resolvedPath, err)
	}
	return nil
}

func (r *Registry) apply(ctx context.Context, sourcePath string, loader module.Loader, exports *module.Exports, subModule string) error {
	members, err := loader.Load(sourcePath)
	if err != nil {
		return fmt.Errorf("reload %q: %w", sourcePath, err)
	}
	if err := Merge(members, exports, subModule); err != nil {
		return fmt.Errorf("reload %q: %w", sourcePath, err)
	}
	otel.RecordSpanEvent(ctx, "exports.merged",
		attribute.String(otel.AttrModule, sourcePath),
		attribute.Int("watchreload.members", len(members)),
	)
	return nil
}
