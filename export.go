package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"asset_editor/shutdown"
)

// exportComposite writes the flattened stack to out, or to a session-named
// file under OUTPUT_DIR when out is empty.
func (a *app) exportComposite(mode, sessionID, out string) error {
	data, err := a.editor.Container().CompositePNG()
	if err != nil {
		return fmt.Errorf("failed to composite: %w", err)
	}
	dir, name := a.cfg.OutputDir, sessionName(mode, sessionID)+".png"
	if out != "" {
		dir, name = filepath.Dir(out), filepath.Base(out)
	}
	path, err := writeExport(dir, name, data)
	if err != nil {
		return err
	}
	a.out.exported(path, len(data))
	return nil
}

func sessionName(mode, sessionID string) string {
	if sessionID == "" {
		return mode + "-" + time.Now().Format("20060102-150405")
	}
	return mode + "-" + sessionID
}

// writeExport writes data to dir/name through a partial file and a rename,
// so an interrupted export never leaves a truncated PNG.
func writeExport(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	partial := path + shutdown.PartialSuffix
	if err := os.WriteFile(partial, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", partial, err)
	}
	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return "", fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return path, nil
}
