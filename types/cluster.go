package types

// Cluster is one named group of instances managed as a single power-control
// unit. Values are immutable after configuration load; a reload replaces the
// whole registry.
type Cluster struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	InstanceIDs  []string `json:"instance_ids"`
	Region       string   `json:"region"`
	Tags         []string `json:"tags,omitempty"`
	WakeUpCron   string   `json:"wake_up_cron"`
	ShutdownCron string   `json:"shutdown_cron"`
	Timezone     string   `json:"timezone"`
	Enabled      bool     `json:"enabled"`
}
