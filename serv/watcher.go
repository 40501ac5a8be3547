package serv

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// initConfigWatcher watches the loaded config file and logs when it
// changes. Config is read once at startup; a change needs a restart to
// take effect, which the watcher makes visible instead of silent.
func initConfigWatcher(ctx context.Context, conf *Config, log *zap.SugaredLogger) {
	cf := conf.ConfigFileUsed()
	if cf == "" {
		return
	}

	go func() {
		if err := watchConfig(ctx, cf, log); err != nil {
			log.Warnf("config watcher stopped: %s", err)
		}
	}()
}

func watchConfig(ctx context.Context, configFile string, log *zap.SugaredLogger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close() //nolint:errcheck

	// Watch the directory: editors replace files on save, which would
	// drop a watch on the file itself.
	if err := w.Add(filepath.Dir(configFile)); err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(configFile) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				log.Warnf("config file %s changed, restart to apply", configFile)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnf("config watcher: %s", err)
		case <-ctx.Done():
			return nil
		}
	}
}
