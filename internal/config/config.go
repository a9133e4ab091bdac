package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// Section and key names as they appear in dwh.cfg.
const (
	SectionAWS     = "AWS"
	SectionCluster = "CLUSTER"
	SectionIAMRole = "IAM_ROLE"
	SectionS3      = "S3"
)

// Config is the typed view of dwh.cfg. The HOST, VPCID and ARN fields are
// outputs of a provisioning run and may be empty until one has completed.
// The file is the hand-off point between dwh-infra and dwh-etl and assumes
// a single writer at a time.
type Config struct {
	path string
	file *ini.File

	// [AWS]
	Key    string
	Secret string

	// [CLUSTER]
	ClusterType       string
	NumNodes          int
	NodeType          string
	ClusterIdentifier string
	DBName            string
	DBUser            string
	DBPassword        string
	DBPort            int
	IAMRoleName       string
	Host              string
	VPCID             string

	// [IAM_ROLE]
	RoleARN string

	// [S3]
	LogData     string
	LogJSONPath string
	SongData    string
}

// Load reads and validates the config file at path. Every required key must
// be present and non-empty; output keys (HOST, VPCID, ARN) may be empty.
func Load(path string) (*Config, error) {
	// Inline comments stay off so values may contain # and ; (Redshift
	// allows both in master passwords), matching how other dwh.cfg readers
	// treat them.
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	c := &Config{path: path, file: f}

	for _, s := range []string{SectionAWS, SectionCluster, SectionIAMRole, SectionS3} {
		if _, err := f.GetSection(s); err != nil {
			return nil, fmt.Errorf("config %s: missing section [%s]", path, s)
		}
	}

	reads := []struct {
		section string
		key     string
		dst     *string
		require bool
	}{
		{SectionAWS, "KEY", &c.Key, true},
		{SectionAWS, "SECRET", &c.Secret, true},
		{SectionCluster, "DWH_CLUSTER_TYPE", &c.ClusterType, true},
		{SectionCluster, "DWH_NODE_TYPE", &c.NodeType, true},
		{SectionCluster, "DWH_CLUSTER_IDENTIFIER", &c.ClusterIdentifier, true},
		{SectionCluster, "DB_NAME", &c.DBName, true},
		{SectionCluster, "DB_USER", &c.DBUser, true},
		{SectionCluster, "DB_PASSWORD", &c.DBPassword, true},
		{SectionCluster, "DWH_IAM_ROLE_NAME", &c.IAMRoleName, true},
		{SectionCluster, "HOST", &c.Host, false},
		{SectionCluster, "VPCID", &c.VPCID, false},
		{SectionIAMRole, "ARN", &c.RoleARN, false},
		{SectionS3, "LOG_DATA", &c.LogData, true},
		{SectionS3, "LOG_JSONPATH", &c.LogJSONPath, true},
		{SectionS3, "SONG_DATA", &c.SongData, true},
	}
	for _, r := range reads {
		v := strings.TrimSpace(f.Section(r.section).Key(r.key).String())
		if r.require && v == "" {
			return nil, fmt.Errorf("config %s: missing key %s.%s", path, r.section, r.key)
		}
		*r.dst = v
	}

	nodes, err := f.Section(SectionCluster).Key("DWH_NUM_NODES").Int()
	if err != nil {
		return nil, fmt.Errorf("config %s: CLUSTER.DWH_NUM_NODES: %w", path, err)
	}
	c.NumNodes = nodes

	port, err := f.Section(SectionCluster).Key("DB_PORT").Int()
	if err != nil {
		return nil, fmt.Errorf("config %s: CLUSTER.DB_PORT: %w", path, err)
	}
	c.DBPort = port

	return c, nil
}

// Set updates one key in memory. Save must be called to persist it.
func (c *Config) Set(section, key, value string) {
	c.file.Section(section).Key(key).SetValue(value)

	switch section + "." + key {
	case SectionCluster + ".HOST":
		c.Host = value
	case SectionCluster + ".VPCID":
		c.VPCID = value
	case SectionIAMRole + ".ARN":
		c.RoleARN = value
	}
}

// Save rewrites the config file. Sections and keys this tool does not touch
// survive the rewrite.
func (c *Config) Save() error {
	if err := c.file.SaveTo(c.path); err != nil {
		return fmt.Errorf("save config %s: %w", c.path, err)
	}
	return nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}
