// Package config loads the relay's endpoint rules and control-plane
// settings. Grounded on original_source/src/bin.rs's env/CLI precedence:
// ENV_CONFIG inline blob, else JSON file, else bare defaults.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/relaymesh/relaymesh/internal/balancer"
	"github.com/relaymesh/relaymesh/internal/endpoint"
	"github.com/relaymesh/relaymesh/internal/platform"
	"github.com/relaymesh/relaymesh/internal/rerrors"
	"github.com/relaymesh/relaymesh/internal/rlog"
)

// APIConfig is the control plane's bind address and auth token.
type APIConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	AuthToken string `json:"auth_token"`
}

// EndpointConf is the on-disk/inline JSON form of one relay rule.
type EndpointConf struct {
	Listen      string              `json:"listen"`
	Remote      string              `json:"remote"`
	ExtraRemote []string            `json:"extra_remotes,omitempty"`
	NoTCP       bool                `json:"no_tcp,omitempty"`
	UseUDP      bool                `json:"use_udp,omitempty"`
	Balancer    string              `json:"balancer,omitempty"`
	BindOpts    endpoint.BindOpts   `json:"bind_opts,omitempty"`
	ConnOpts    endpoint.ConnectOpts `json:"conn_opts,omitempty"`
}

// FullConf is the complete runtime configuration: the rule set plus
// control-plane settings.
type FullConf struct {
	API       APIConfig      `json:"api"`
	Endpoints []EndpointConf `json:"endpoints"`
}

// Build turns this conf's endpoints into (Info, Balancer) pairs ready
// for the host to spawn workers from.
func (f *FullConf) Build() ([]*endpoint.Info, []*balancer.Balancer, error) {
	infos := make([]*endpoint.Info, 0, len(f.Endpoints))
	balancers := make([]*balancer.Balancer, 0, len(f.Endpoints))
	for _, ec := range f.Endpoints {
		info, bal, err := ec.build()
		if err != nil {
			return nil, nil, err
		}
		infos = append(infos, info)
		balancers = append(balancers, bal)
	}
	return infos, balancers, nil
}

func (ec *EndpointConf) build() (*endpoint.Info, *balancer.Balancer, error) {
	raddr, err := endpoint.ParseRemoteAddr(ec.Remote)
	if err != nil {
		return nil, nil, err
	}
	extras := make([]endpoint.RemoteAddr, 0, len(ec.ExtraRemote))
	for _, s := range ec.ExtraRemote {
		r, err := endpoint.ParseRemoteAddr(s)
		if err != nil {
			return nil, nil, err
		}
		extras = append(extras, r)
	}

	ep := &endpoint.Endpoint{
		LocalAddr:   ec.Listen,
		RemoteAddr:  raddr,
		ExtraRemote: extras,
		BindOpts:    ec.BindOpts,
		ConnOpts:    ec.ConnOpts,
	}
	info := &endpoint.Info{Endpoint: ep, NoTCP: ec.NoTCP, UseUDP: ec.UseUDP}
	if err := info.Validate(); err != nil {
		return nil, nil, err
	}

	var bal *balancer.Balancer
	if ec.Balancer != "" {
		bal, err = balancer.ParseString(ec.Balancer)
		if err != nil {
			return nil, nil, err
		}
	}
	return info, bal, nil
}

// Load resolves the full configuration following original_source/src/
// bin.rs's precedence: ENV_CONFIG inline JSON blob first, else a
// config file path (if non-empty), else bare API env vars with an
// empty rule set.
func Load(configFile string) (*FullConf, error) {
	if blob, ok := os.LookupEnv(platform.EnvConfig); ok && blob != "" {
		conf, err := fromJSON([]byte(blob))
		if err != nil {
			return nil, rerrors.New("parsing ", platform.EnvConfig, " blob").Base(err).AtWarning()
		}
		return conf, nil
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, rerrors.New("reading config file ", configFile).Base(err).AtWarning()
		}
		conf, err := fromJSON(data)
		if err != nil {
			return nil, rerrors.New("parsing config file ", configFile).Base(err).AtWarning()
		}
		return conf, nil
	}

	conf := &FullConf{API: defaultAPIConfig()}
	if len(conf.Endpoints) == 0 && !anyAPIEnvSet() {
		rlog.Infof("no endpoints configured and no API_HOST/API_PORT/API_AUTH_TOKEN set; " +
			"starting with the control plane alone on 127.0.0.1:8080, add rules via POST /rules")
	}
	return conf, nil
}

func anyAPIEnvSet() bool {
	for _, name := range []string{platform.APIHost, platform.APIPort, platform.APIAuthToken} {
		if _, ok := os.LookupEnv(name); ok {
			return true
		}
	}
	return false
}

func fromJSON(data []byte) (*FullConf, error) {
	conf := &FullConf{API: defaultAPIConfig()}
	if err := json.Unmarshal(data, conf); err != nil {
		return nil, err
	}
	applyAPIEnvOverrides(&conf.API)
	return conf, nil
}

// defaultAPIConfig resolves API_HOST/API_PORT/API_AUTH_TOKEN from the
// environment, falling back to 127.0.0.1:8080 with no auth token.
func defaultAPIConfig() APIConfig {
	api := APIConfig{}
	applyAPIEnvOverrides(&api)
	return api
}

func applyAPIEnvOverrides(api *APIConfig) {
	defaultHost := api.Host
	if defaultHost == "" {
		defaultHost = "127.0.0.1"
	}
	host := platform.NewEnvFlag(platform.APIHost)
	api.Host = host.GetValue(func() string { return defaultHost })

	defaultPort := api.Port
	if defaultPort == 0 {
		defaultPort = 8080
	}
	port := platform.NewEnvFlag(platform.APIPort)
	portVal, invalid := port.GetValueAsInt(defaultPort)
	if invalid {
		rlog.Warnf("invalid %s value, falling back to %d", platform.APIPort, defaultPort)
	}
	api.Port = portVal

	defaultToken := api.AuthToken
	token := platform.NewEnvFlag(platform.APIAuthToken)
	api.AuthToken = token.GetValue(func() string { return defaultToken })
}

// AddrString renders host:port for net.Listen.
func (a APIConfig) AddrString() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}
