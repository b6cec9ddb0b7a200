package api

import (
	"time"

	"dockerflow/internal/store"
)

const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

type ContainerResponse struct {
	ID          string            `json:"id"`
	DockerID    string            `json:"docker_id"`
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Status      string            `json:"status"`
	Ports       map[uint16]uint16 `json:"ports"`
	Volumes     map[string]string `json:"volumes"`
	Env         map[string]string `json:"env"`
	Subdomain   string            `json:"subdomain,omitempty"`
	OwnerID     string            `json:"owner_id"`
	CPULimit    int64             `json:"cpu_limit"`
	MemoryLimit int64             `json:"memory_limit"`
	CreatedAt   string            `json:"created_at"`
}

func toContainerResponse(c store.Container) ContainerResponse {
	return ContainerResponse{
		ID:          c.ID,
		DockerID:    c.DockerID,
		Name:        c.Name,
		Image:       c.ImageRef,
		Status:      c.Status,
		Ports:       c.Ports,
		Volumes:     c.Volumes,
		Env:         c.Env,
		Subdomain:   c.Subdomain,
		OwnerID:     c.OwnerID,
		CPULimit:    c.CPULimit,
		MemoryLimit: c.MemoryLimit,
		CreatedAt:   formatTime(c.CreatedAt),
	}
}

type VolumeResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Driver     string `json:"driver"`
	Mountpoint string `json:"mountpoint"`
	Size       int64  `json:"size"`
	OwnerID    string `json:"owner_id"`
	CreatedAt  string `json:"created_at"`
}

func toVolumeResponse(v store.Volume) VolumeResponse {
	return VolumeResponse{
		ID:         v.ID,
		Name:       v.Name,
		Driver:     v.Driver,
		Mountpoint: v.Mountpoint,
		Size:       v.Size,
		OwnerID:    v.OwnerID,
		CreatedAt:  formatTime(v.CreatedAt),
	}
}

type BackupResponse struct {
	ID        string `json:"id"`
	VolumeID  string `json:"volume_id"`
	UserID    string `json:"user_id"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	CreatedAt string `json:"created_at"`
}

func toBackupResponse(b store.VolumeBackup) BackupResponse {
	return BackupResponse{
		ID:        b.ID,
		VolumeID:  b.VolumeID,
		UserID:    b.UserID,
		Path:      b.Path,
		Size:      b.Size,
		CreatedAt: formatTime(b.CreatedAt),
	}
}

type ActivityResponse struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	UserID      string            `json:"user_id"`
	Metadata    map[string]string `json:"metadata"`
	IPAddress   string            `json:"ip_address"`
	UserAgent   string            `json:"user_agent"`
	CreatedAt   string            `json:"created_at"`
}

func toActivityResponse(a store.Activity) ActivityResponse {
	return ActivityResponse{
		ID:          a.ID,
		Type:        a.Type,
		Description: a.Description,
		UserID:      a.UserID,
		Metadata:    a.Metadata,
		IPAddress:   a.IPAddress,
		UserAgent:   a.UserAgent,
		CreatedAt:   formatTime(a.CreatedAt),
	}
}

type AlertResponse struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	UserID         string `json:"user_id"`
	Acknowledged   bool   `json:"acknowledged"`
	AcknowledgedBy string `json:"acknowledged_by,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

func toAlertResponse(a store.Alert) AlertResponse {
	return AlertResponse{
		ID:             a.ID,
		Type:           a.Type,
		Severity:       a.Severity,
		Title:          a.Title,
		Message:        a.Message,
		UserID:         a.UserID,
		Acknowledged:   a.Acknowledged,
		AcknowledgedBy: a.AcknowledgedBy,
		Status:         a.Status,
		CreatedAt:      formatTime(a.CreatedAt),
	}
}

type QuotaResponse struct {
	UserID           string `json:"user_id"`
	CPULimit         int64  `json:"cpu_limit"`
	MemoryLimit      int64  `json:"memory_limit"`
	StorageLimit     int64  `json:"storage_limit"`
	CPUThreshold     int    `json:"cpu_threshold"`
	MemoryThreshold  int    `json:"memory_threshold"`
	StorageThreshold int    `json:"storage_threshold"`
	UpdatedAt        string `json:"updated_at"`
}

func toQuotaResponse(q store.Quota) QuotaResponse {
	return QuotaResponse{
		UserID:           q.UserID,
		CPULimit:         q.CPULimit,
		MemoryLimit:      q.MemoryLimit,
		StorageLimit:     q.StorageLimit,
		CPUThreshold:     q.CPUThreshold,
		MemoryThreshold:  q.MemoryThreshold,
		StorageThreshold: q.StorageThreshold,
		UpdatedAt:        formatTime(q.UpdatedAt),
	}
}

type ActionResponse struct {
	PreviousState string `json:"previous_state"`
	NewState      string `json:"new_state"`
}

type StatsResponse struct {
	ContainerID   string  `json:"container_id"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsage   uint64  `json:"memory_usage"`
	MemoryLimit   uint64  `json:"memory_limit"`
}
