package config

import (
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	prefix      = "mailsync"
	tableFormat = `mailsync is configured via the environment. The following environment
variables can be used:

KEY	DEFAULT	REQUIRED	DESCRIPTION
{{range .}}{{usage_key .}}	{{usage_default .}}	{{usage_required .}}	{{usage_description .}}
{{end}}`
)

var (
	// Version of this build, set by main
	Version = ""

	// BuildDate for this build, set by main
	BuildDate = ""
)

// Root wraps all other configurations.
type Root struct {
	LogLevel string `required:"true" default:"info" desc:"debug, info, warn, or error"`
	Remote   Remote
	Auth     Auth
	Storage  Storage
	Agent    Agent
	Query    Query
	Web      Web
}

// Remote contains the remote mailbox service configuration.
type Remote struct {
	Provider      string        `required:"true" default:"rest" desc:"rest or gmail"`
	BaseURL       string        `required:"true" default:"http://localhost:8080" desc:"Mailbox API base URL"`
	PageSize      int           `required:"true" default:"50" desc:"Messages per page"`
	Timeout       time.Duration `required:"true" default:"30s" desc:"Transport timeout"`
	ProbeInterval time.Duration `required:"true" default:"15s" desc:"Connectivity probe interval"`
}

// Auth contains the credential refresh configuration.
type Auth struct {
	TokenURL     string `desc:"OAuth2 token endpoint; empty uses the mailbox API refresh route"`
	ClientID     string `desc:"OAuth2 client ID"`
	ClientSecret string `desc:"OAuth2 client secret"`
	RefreshToken string `desc:"OAuth2 refresh token"`
	AccessToken  string `desc:"Initial access token"`
}

// Storage contains the persistent local store configuration.
type Storage struct {
	Type      string            `required:"true" default:"file" desc:"file, memory, postgres or mysql"`
	Params    map[string]string `default:"path:/tmp/mailsync" desc:"Backend specific parameters"`
	LabelTTL  time.Duration     `required:"true" default:"10m" desc:"Label set time-to-live"`
	PageTTL   time.Duration     `required:"true" default:"3m" desc:"Message page time-to-live"`
	DetailTTL time.Duration     `required:"true" default:"5m" desc:"Message detail time-to-live"`
}

// Agent contains the network interception agent configuration.
type Agent struct {
	Enabled         bool     `required:"true" default:"true" desc:"Route mailbox traffic through the agent?"`
	CachePath       string   `required:"true" default:"/tmp/mailsync/responses" desc:"Response cache path"`
	Version         string   `required:"true" default:"v1" desc:"Response cache version"`
	RulesFile       string   `desc:"YAML route classification rules"`
	Precache        []string `desc:"Shell assets to precache on install"`
	OfflineDocument string   `desc:"Document served to offline navigations, precached on install"`
}

// Query contains the in-memory query cache configuration.
type Query struct {
	GCInterval      time.Duration `required:"true" default:"1m" desc:"Idle entry collection interval"`
	LabelFreshFor   time.Duration `required:"true" default:"10m" desc:"Label set fresh window"`
	LabelRetainFor  time.Duration `required:"true" default:"30m" desc:"Label set retain window"`
	PageFreshFor    time.Duration `required:"true" default:"3m" desc:"Message page fresh window"`
	PageRetainFor   time.Duration `required:"true" default:"15m" desc:"Message page retain window"`
	DetailFreshFor  time.Duration `required:"true" default:"5m" desc:"Message detail fresh window"`
	DetailRetainFor time.Duration `required:"true" default:"20m" desc:"Message detail retain window"`
}

// Web contains the local API server configuration.
type Web struct {
	Addr           string `required:"true" default:"127.0.0.1:9300" desc:"Local API host:port"`
	BasePath       string `default:"" desc:"Base path prefix for URLs"`
	MonitorHistory int    `required:"true" default:"30" desc:"Cache events replayed to new monitors"`
}

// Process loads and parses configuration from the environment.
func Process() (*Root, error) {
	c := &Root{}
	err := envconfig.Process(prefix, c)
	return c, err
}

// Usage prints out the envconfig usage to Stderr.
func Usage() {
	tabs := tabwriter.NewWriter(os.Stderr, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef(prefix, &Root{}, tabs, tableFormat); err != nil {
		log.Fatalf("Unable to parse env config: %v", err)
	}
	tabs.Flush()
}
