package store

import "time"

// Container is the persisted ownership record for one managed container.
// DockerID correlates to the live engine object and may be empty when the
// runtime object was removed out-of-band; the reconciler repairs that.
type Container struct {
	ID          string
	DockerID    string
	Name        string
	ImageRef    string
	Status      string
	Ports       map[uint16]uint16
	Volumes     map[string]string
	Env         map[string]string
	Subdomain   string
	OwnerID     string
	CPULimit    int64 // millicores, 1000 = 1 core
	MemoryLimit int64 // bytes
	CreatedAt   time.Time
}

// Volume is soft-deleted: DeletedAt is the tombstone, kept so backup history
// stays linked after removal.
type Volume struct {
	ID         string
	Name       string
	Driver     string
	Mountpoint string
	Size       int64
	OwnerID    string
	CreatedAt  time.Time
	DeletedAt  time.Time
}

func (v Volume) Deleted() bool {
	return !v.DeletedAt.IsZero()
}

type VolumeBackup struct {
	ID        string
	VolumeID  string
	UserID    string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Activity rows are append-only audit entries, never read back for control
// decisions.
type Activity struct {
	ID          string
	Type        string
	Description string
	UserID      string
	Metadata    map[string]string
	IPAddress   string
	UserAgent   string
	CreatedAt   time.Time
}

const (
	AlertStatusPending   = "PENDING"
	AlertStatusResolved  = "RESOLVED"
	AlertStatusDismissed = "DISMISSED"

	AlertSeverityWarning = "WARNING"
)

type Alert struct {
	ID             string
	Type           string
	Severity       string
	Title          string
	Message        string
	UserID         string
	Acknowledged   bool
	AcknowledgedBy string
	Status         string
	CreatedAt      time.Time
}

// Quota bounds aggregate consumption per user. CPU in millicores, memory and
// storage in bytes, thresholds in percent.
type Quota struct {
	UserID           string
	CPULimit         int64
	MemoryLimit      int64
	StorageLimit     int64
	CPUThreshold     int
	MemoryThreshold  int
	StorageThreshold int
	UpdatedAt        time.Time
}
