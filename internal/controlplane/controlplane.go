// Package controlplane is the relay's HTTP API: a gin router behind a
// request-logger and Bearer-token authenticator, with routes to
// inspect metrics and to add/remove relay rules. Grounded on
// the gin middleware pattern in KhryptorGraphics-OllamaMax's internal/
// auth.MiddlewareManager.AuthRequired, adapted to a single static
// token rather than a JWT/role system.
package controlplane

import (
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/relaymesh/relaymesh/internal/config"
	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/internal/rerrors"
	"github.com/relaymesh/relaymesh/internal/ruleregistry"
	"github.com/relaymesh/relaymesh/internal/rlog"
)

// RuleActivator builds and starts the TCP/UDP workers for a newly
// created rule. The host package supplies the concrete implementation;
// this package only depends on the function signature so it stays
// free of tcprelay/udprelay/balancer wiring concerns.
type RuleActivator func(ec config.EndpointConf) error

// Server is the control-plane HTTP API.
type Server struct {
	Metrics   *metrics.Registry
	Rules     *ruleregistry.Registry
	AuthToken string
	Activate  RuleActivator

	engine *gin.Engine
}

// NewServer builds the gin engine with the middleware stack and
// routes wired in; call Handler to get the http.Handler to serve.
func NewServer(s *Server) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(requestLogger())
	e.Use(corsMiddleware())
	e.Use(s.authenticator())

	e.GET("/rules/tcp", s.listTCP)
	e.GET("/rules/tcp/:id/stats", s.tcpStats)
	e.GET("/rules/udp", s.listUDP)
	e.GET("/rules/udp/:addr/stats", s.udpStats)
	e.POST("/rules", s.createRule)
	e.DELETE("/rules/:id", s.deleteRule)

	s.engine = e
	return s
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() *gin.Engine { return s.engine }

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		// Only this allow-list of headers is logged; Authorization never is.
		h := c.Request.Header
		rlog.Infof("%s %s %d %s user-agent=%q content-length=%q x-forwarded-for=%q",
			method, path, c.Writer.Status(), time.Since(start),
			h.Get("User-Agent"), h.Get("Content-Length"), h.Get("X-Forwarded-For"))
	}
}

// corsMiddleware allows any origin to read the API, matching a relay
// control plane meant to be polled by a browser dashboard running
// somewhere other than the relay host itself.
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE"},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
	})
}

// authenticator enforces Bearer-token auth: open when no token is
// configured, otherwise the header must match exactly or the request
// is rejected with a challenge header and no body.
func (s *Server) authenticator() gin.HandlerFunc {
	const prefix = "Bearer "
	return func(c *gin.Context) {
		if s.AuthToken == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix || header[len(prefix):] != s.AuthToken {
			c.Header("WWW-Authenticate", `Bearer realm="Realm API"`)
			c.AbortWithStatus(401)
			return
		}
		c.Next()
	}
}

type ruleSnapshot struct {
	ID    string           `json:"id"`
	Stats metrics.Snapshot `json:"stats"`
}

func (s *Server) listTCP(c *gin.Context) {
	ids := s.Metrics.ListTCP()
	out := make([]ruleSnapshot, 0, len(ids))
	for _, id := range ids {
		cm, ok := s.Metrics.TCPEntry(id)
		if !ok {
			continue
		}
		out = append(out, ruleSnapshot{ID: id, Stats: cm.Snapshot()})
	}
	c.JSON(200, out)
}

func (s *Server) tcpStats(c *gin.Context) {
	id := c.Param("id")
	cm, ok := s.Metrics.TCPEntry(id)
	if !ok {
		c.JSON(404, gin.H{"error": "not found"})
		return
	}
	c.JSON(200, cm.Snapshot())
}

type udpSnapshot struct {
	ClientAddr string           `json:"client_addr"`
	Stats      metrics.Snapshot `json:"stats"`
}

func (s *Server) listUDP(c *gin.Context) {
	addrs := s.Metrics.ListUDP()
	out := make([]udpSnapshot, 0, len(addrs))
	for _, addr := range addrs {
		cm, ok := s.Metrics.UDPEntry(addr)
		if !ok {
			continue
		}
		out = append(out, udpSnapshot{ClientAddr: addr.String(), Stats: cm.Snapshot()})
	}
	c.JSON(200, out)
}

func (s *Server) udpStats(c *gin.Context) {
	raw := c.Param("addr")
	addr, err := parseClientAddr(raw)
	if err != nil {
		c.JSON(400, gin.H{"error": "malformed address"})
		return
	}
	cm, ok := s.Metrics.UDPEntry(addr)
	if !ok {
		c.JSON(404, gin.H{"error": "not found"})
		return
	}
	c.JSON(200, cm.Snapshot())
}

func parseClientAddr(raw string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap, nil
	}
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return netip.AddrPort{}, err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ip, uint16(p)), nil
}

type createRuleRequest struct {
	Endpoint config.EndpointConf `json:"endpoint"`
}

func (s *Server) createRule(c *gin.Context) {
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	if _, ok := s.Rules.Get(req.Endpoint.Listen); ok {
		c.JSON(409, gin.H{"error": "rule already exists"})
		return
	}

	if err := s.Activate(req.Endpoint); err != nil {
		c.JSON(statusForActivateError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(201, gin.H{"id": req.Endpoint.Listen})
}

func (s *Server) deleteRule(c *gin.Context) {
	id := c.Param("id")
	if err := s.Rules.Remove(id); err != nil {
		c.JSON(404, gin.H{"error": "not found"})
		return
	}
	c.JSON(200, gin.H{"id": id})
}

// statusForActivateError maps a build/activation failure to its HTTP
// status: 400 for a bad endpoint build, 409 for a duplicate rejected by
// the registry's reservation (including one that raced past the Get
// check in createRule), 500 for anything else (bind failure etc).
func statusForActivateError(err error) int {
	switch rerrors.KindOf(err) {
	case rerrors.KindInvalidConfig:
		return 400
	case rerrors.KindDuplicate:
		return 409
	default:
		return 500
	}
}
