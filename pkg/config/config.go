// Package config assembles the single Config record passed explicitly into
// every pipeline component. It combines environment-driven execution flags
// with the type ids (URL types, dependency types, user sources) resolved
// from the store in a one-shot query at startup. There is no process-wide
// mutable configuration state.
package config

import (
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/chai-pm/chai/pkg/model"
)

// Exec holds the execution flags read from the environment.
type Exec struct {
	DatabaseURL     string // CHAI_DATABASE_URL: postgres DSN
	DataDir         string // CHAI_DATA_DIR: fetch artifact root, default ./data
	MonitorAddr     string // CHAI_MONITOR_ADDR: monitor listen address
	Fetch           bool   // FETCH: when false, reuse the last fetched snapshot
	NoCache         bool   // NO_CACHE: delete fetched artifacts after ingest
	Test            bool   // TEST: skip fetching, parse the latest snapshot on disk, cap records
	Debug           bool   // DEBUG: verbose logging
	Load            bool   // LOAD: deduplicator writes (false = dry run)
	EnableScheduler bool   // ENABLE_SCHEDULER: when false, run once and exit
	Frequency       int    // FREQUENCY: scheduling interval in hours
}

// LoadExec reads execution flags from the environment. Unset variables take
// the defaults from the external interface contract: FETCH=true,
// NO_CACHE=false, TEST=false, FREQUENCY=24, ENABLE_SCHEDULER=true,
// DEBUG=false, LOAD=false.
func LoadExec() Exec {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("CHAI_DATABASE_URL", "")
	v.SetDefault("CHAI_DATA_DIR", "./data")
	v.SetDefault("CHAI_MONITOR_ADDR", ":8080")
	v.SetDefault("FETCH", true)
	v.SetDefault("NO_CACHE", false)
	v.SetDefault("TEST", false)
	v.SetDefault("DEBUG", false)
	v.SetDefault("LOAD", false)
	v.SetDefault("ENABLE_SCHEDULER", true)
	v.SetDefault("FREQUENCY", 24)

	return Exec{
		DatabaseURL:     v.GetString("CHAI_DATABASE_URL"),
		DataDir:         v.GetString("CHAI_DATA_DIR"),
		MonitorAddr:     v.GetString("CHAI_MONITOR_ADDR"),
		Fetch:           v.GetBool("FETCH"),
		NoCache:         v.GetBool("NO_CACHE"),
		Test:            v.GetBool("TEST"),
		Debug:           v.GetBool("DEBUG"),
		Load:            v.GetBool("LOAD"),
		EnableScheduler: v.GetBool("ENABLE_SCHEDULER"),
		Frequency:       v.GetInt("FREQUENCY"),
	}
}

// URLTypes holds the resolved ids of the URL type rows.
type URLTypes struct {
	Homepage      uuid.UUID
	Source        uuid.UUID
	Repository    uuid.UUID
	Documentation uuid.UUID
}

// ID resolves a URL type name to its id.
func (t URLTypes) ID(name string) (uuid.UUID, bool) {
	switch name {
	case model.URLTypeHomepage:
		return t.Homepage, true
	case model.URLTypeSource:
		return t.Source, true
	case model.URLTypeRepository:
		return t.Repository, true
	case model.URLTypeDocumentation:
		return t.Documentation, true
	}
	return uuid.Nil, false
}

// DependencyTypes holds the resolved ids of the dependency type rows.
type DependencyTypes struct {
	Runtime       uuid.UUID
	Build         uuid.UUID
	Test          uuid.UUID
	Recommended   uuid.UUID
	Optional      uuid.UUID
	UsesFromMacos uuid.UUID
}

// ID resolves a dependency type name to its id.
func (t DependencyTypes) ID(name string) (uuid.UUID, bool) {
	switch name {
	case model.DepTypeRuntime:
		return t.Runtime, true
	case model.DepTypeBuild:
		return t.Build, true
	case model.DepTypeTest:
		return t.Test, true
	case model.DepTypeRecommended:
		return t.Recommended, true
	case model.DepTypeOptional:
		return t.Optional, true
	case model.DepTypeUsesFromMacos:
		return t.UsesFromMacos, true
	}
	return uuid.Nil, false
}

// UserSources holds the resolved ids of the account source rows.
type UserSources struct {
	GitHub uuid.UUID
	Crates uuid.UUID
}

// ID resolves a source name to its id.
func (s UserSources) ID(name string) (uuid.UUID, bool) {
	switch strings.ToLower(name) {
	case "github":
		return s.GitHub, true
	case "crates":
		return s.Crates, true
	}
	return uuid.Nil, false
}

// Config is the per-pipeline configuration record. It is built once at
// pipeline start and passed explicitly; components never read the
// environment themselves.
type Config struct {
	PackageManager  model.PackageManager
	Source          SourceSpec
	Exec            Exec
	URLTypes        URLTypes
	DependencyTypes DependencyTypes
	UserSources     UserSources
}
