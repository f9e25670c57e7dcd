package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// ConfigSaveRequest represents a config save request.
type ConfigSaveRequest struct {
	CreateBackup bool `json:"create_backup"`
}

// ConfigSaveResponse represents the response after saving config.
type ConfigSaveResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Path       string `json:"path,omitempty"`
	BackupPath string `json:"backup_path,omitempty"`
}

func (a *API) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	err := a.backend.ReloadConfig()
	a.record("reload", err)
	if err != nil {
		a.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Config reload failed",
			"message": err.Error(),
		})
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Config reloaded successfully",
		"time":    time.Now().Format(time.RFC3339),
	})
}

// handleSaveConfig writes the current registry to the config file.
// An empty body saves without a backup.
func (a *API) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.writeJSON(w, http.StatusBadRequest, ConfigSaveResponse{
			Success: false,
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	backupPath, err := a.backend.SaveConfig(req.CreateBackup)
	a.record("save", err)
	if err != nil {
		a.writeJSON(w, http.StatusInternalServerError, ConfigSaveResponse{
			Success:    false,
			Message:    "Failed to save config: " + err.Error(),
			BackupPath: backupPath,
		})
		return
	}

	a.logger.Info("Config saved", "path", a.backend.ConfigPath(), "backup", backupPath)
	a.writeJSON(w, http.StatusOK, ConfigSaveResponse{
		Success:    true,
		Message:    "Configuration saved",
		Path:       a.backend.ConfigPath(),
		BackupPath: backupPath,
	})
}
