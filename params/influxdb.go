package params

// InfluxDBConfig locates the InfluxDB v2 bucket metrics are exported to.
// An empty URL disables the export.
type InfluxDBConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

func DefaultInfluxDBConfig() *InfluxDBConfig {
	return &InfluxDBConfig{
		URL:    "",
		Org:    AppName,
		Bucket: AppName,
	}
}

func (c *InfluxDBConfig) Enabled() bool {
	return c != nil && c.URL != ""
}
