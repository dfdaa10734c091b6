// Package host wires every rule's workers, the metrics registry, the
// rule registry, and the control plane into one running instance.
// Grounded on Xray-core's main/run.go executeRun: build, Start,
// wait on SIGINT/SIGTERM, Close, adapted from a single long-lived
// core.Server to a dynamic set of per-rule TCP/UDP workers that the
// control plane can grow and shrink at runtime.
package host

import (
	"context"
	"net"
	"net/http"

	"github.com/relaymesh/relaymesh/internal/balancer"
	"github.com/relaymesh/relaymesh/internal/config"
	"github.com/relaymesh/relaymesh/internal/controlplane"
	"github.com/relaymesh/relaymesh/internal/endpoint"
	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/internal/rerrors"
	"github.com/relaymesh/relaymesh/internal/rlog"
	"github.com/relaymesh/relaymesh/internal/ruleregistry"
	"github.com/relaymesh/relaymesh/internal/tcprelay"
	"github.com/relaymesh/relaymesh/internal/udprelay"
)

// Instance is one running relay host: its metrics, its rules, and the
// control-plane API that can reconfigure them live.
type Instance struct {
	conf *config.FullConf

	Metrics *metrics.Registry
	Rules   *ruleregistry.Registry

	apiServer   *http.Server
	apiListener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an Instance from a loaded configuration; it does not bind
// any socket yet.
func New(conf *config.FullConf) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	return &Instance{
		conf:    conf,
		Metrics: metrics.NewRegistry(),
		Rules:   ruleregistry.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start activates every configured rule and the control plane, binding
// all listening sockets before returning.
func (inst *Instance) Start() error {
	inst.Metrics.Start()

	infos, balancers, err := inst.conf.Build()
	if err != nil {
		return rerrors.New("building configured endpoints").Base(err).AtError().WithKind(rerrors.KindInvalidConfig)
	}
	for i, info := range infos {
		if err := inst.activate(info, balancers[i]); err != nil {
			return err
		}
	}

	return inst.startControlPlane()
}

// activate reserves the rule-id, then builds and starts the TCP/UDP
// workers for it, committing a cancellation that stops both and
// unregisters the rule. Reserving before binding any socket means two
// concurrent requests for the same rule-id can never both reach a
// bind call: the second is rejected as a duplicate immediately.
func (inst *Instance) activate(info *endpoint.Info, bal *balancer.Balancer) error {
	res, err := inst.Rules.Reserve(info)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(inst.ctx)

	var tcpRelay *tcprelay.Relay
	var udpEngine *udprelay.Engine

	if !info.NoTCP {
		tcpRelay = &tcprelay.Relay{Info: info, Balancer: bal, Metrics: inst.Metrics}
		if err := tcpRelay.Listen(ctx); err != nil {
			cancel()
			res.Rollback()
			return err
		}
	}
	if info.UseUDP {
		udpEngine = &udprelay.Engine{Info: info, Metrics: inst.Metrics}
		if err := udpEngine.Listen(ctx); err != nil {
			cancel()
			if tcpRelay != nil {
				tcpRelay.Close()
			}
			res.Rollback()
			return err
		}
	}

	stop := func() {
		cancel()
		if tcpRelay != nil {
			tcpRelay.Close()
		}
		if udpEngine != nil {
			udpEngine.Close()
		}
	}
	res.Commit(stop)

	if tcpRelay != nil {
		go func() {
			if err := tcpRelay.Serve(ctx); err != nil {
				rlog.Debugf("tcp relay on %s stopped: %v", info.Endpoint.LocalAddr, err)
			}
		}()
	}
	if udpEngine != nil {
		go func() {
			if err := udpEngine.Serve(ctx); err != nil {
				rlog.Debugf("udp engine on %s stopped: %v", info.Endpoint.LocalAddr, err)
			}
		}()
	}

	return nil
}

// activateConf is the config.EndpointConf-based entry point the control
// plane's POST /rules handler drives: parse, validate, build workers,
// register.
func (inst *Instance) activateConf(ec config.EndpointConf) error {
	fc := &config.FullConf{Endpoints: []config.EndpointConf{ec}}
	infos, balancers, err := fc.Build()
	if err != nil {
		if rerrors.KindOf(err) == rerrors.KindUnknown {
			return rerrors.New("invalid endpoint ", ec.Listen).Base(err).AtWarning().WithKind(rerrors.KindInvalidConfig)
		}
		return err
	}
	return inst.activate(infos[0], balancers[0])
}

func (inst *Instance) startControlPlane() error {
	srv := controlplane.NewServer(&controlplane.Server{
		Metrics:   inst.Metrics,
		Rules:     inst.Rules,
		AuthToken: inst.conf.API.AuthToken,
		Activate:  inst.activateConf,
	})

	ln, err := net.Listen("tcp", inst.conf.API.AddrString())
	if err != nil {
		return rerrors.New("binding control plane on ", inst.conf.API.AddrString()).Base(err).AtError().WithKind(rerrors.KindBindFailed)
	}
	inst.apiListener = ln
	inst.apiServer = &http.Server{Handler: srv.Handler()}

	go func() {
		if err := inst.apiServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			rlog.Debugf("control plane stopped: %v", err)
		}
	}()
	return nil
}

// Close tears down every rule's workers, the control plane, and the
// metrics rate task.
func (inst *Instance) Close() error {
	for _, info := range inst.Rules.List() {
		inst.Rules.Remove(info.Endpoint.RuleID())
	}
	if inst.apiServer != nil {
		inst.apiServer.Close()
	}
	inst.cancel()
	return inst.Metrics.Close()
}
