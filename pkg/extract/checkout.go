package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.opentelemetry.io/otel/attribute"
	otelsemconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/aretw0/tendril/pkg/flow"
	"github.com/aretw0/tendril/pkg/semconv"
)

// Checkout enriches source control checkout steps with RPC and repository
// attributes derived from the step's url argument. It understands https/http
// remotes, ssh remotes (both ssh:// and the scp-like user@host:path form) and
// local repositories.
type Checkout struct {
	steps map[string]struct{}
}

// NewCheckout creates the extractor. stepNames overrides the step function
// names it matches; the default covers "checkout" and "git".
func NewCheckout(stepNames ...string) *Checkout {
	if len(stepNames) == 0 {
		stepNames = []string{"checkout", "git"}
	}
	steps := make(map[string]struct{}, len(stepNames))
	for _, name := range stepNames {
		steps[name] = struct{}{}
	}
	return &Checkout{steps: steps}
}

// Match reports whether the node is a checkout step.
func (c *Checkout) Match(node *flow.Node) bool {
	_, ok := c.steps[node.Name]
	return ok
}

// checkoutArgs is the subset of checkout step arguments we read.
type checkoutArgs struct {
	URL    string `mapstructure:"url"`
	Branch string `mapstructure:"branch"`
}

// Extract computes the span name and attributes for a checkout node.
//
// The url argument is required; a missing or unparsable url is an error so
// the registry can degrade to a generic span instead of dropping the step.
func (c *Checkout) Extract(node *flow.Node) (Result, error) {
	var args checkoutArgs
	if err := mapstructure.Decode(node.Args, &args); err != nil {
		return Result{}, fmt.Errorf("failed to decode checkout arguments: %w", err)
	}
	if args.URL == "" {
		return Result{}, errors.New("checkout step has no url argument")
	}

	remote, err := parseGitURL(args.URL)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse git url %q: %w", args.URL, err)
	}

	repository := remote.normalizedPath()
	var (
		spanName string
		attrs    []attribute.KeyValue
	)

	switch {
	case remote.scheme == "https" || remote.scheme == "http":
		spanName = node.Name + ": " + remote.host + "/" + repository
		attrs = []attribute.KeyValue{
			otelsemconv.RPCSystemKey.String(remote.scheme),
			otelsemconv.RPCServiceKey.String("git"),
			otelsemconv.RPCMethodKey.String("checkout"),
			otelsemconv.NetPeerNameKey.String(remote.host),
			otelsemconv.PeerServiceKey.String("git"),
			otelsemconv.HTTPURLKey.String(remote.sanitized()),
			otelsemconv.HTTPMethodKey.String("POST"),
			semconv.GitRepository(repository),
		}

	case remote.scheme == "ssh" || (remote.scheme == "" && remote.host != ""):
		spanName = node.Name + ": " + remote.host + "/" + repository
		attrs = []attribute.KeyValue{
			otelsemconv.RPCSystemKey.String("ssh"),
			otelsemconv.RPCServiceKey.String("git"),
			otelsemconv.RPCMethodKey.String("checkout"),
			otelsemconv.NetTransportTCP,
			otelsemconv.NetPeerNameKey.String(remote.host),
			otelsemconv.PeerServiceKey.String("git"),
			semconv.GitRepository(repository),
		}

	case remote.scheme == "file" || (remote.scheme == "" && remote.host == ""):
		spanName = node.Name + ": " + repository
		attrs = []attribute.KeyValue{
			semconv.GitRepository(repository),
		}

	default:
		// Unknown scheme: recognized step, nothing to enrich.
		return Result{SpanName: node.Name}, nil
	}

	if args.Branch != "" {
		attrs = append(attrs, semconv.GitBranch(args.Branch))
	}

	return Result{SpanName: spanName, Attrs: attrs}, nil
}

// gitURL is the parsed form of a git remote reference.
type gitURL struct {
	scheme string
	user   string
	host   string
	port   int
	path   string
}

// parseGitURL parses the remote forms git accepts: full URLs
// (https://host/path, ssh://user@host:port/path, file:///path), the scp-like
// shorthand (user@host:path) and bare local paths.
func parseGitURL(raw string) (*gitURL, error) {
	if raw == "" {
		return nil, errors.New("empty url")
	}

	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		g := &gitURL{
			scheme: strings.ToLower(parsed.Scheme),
			host:   parsed.Hostname(),
			path:   parsed.Path,
		}
		if parsed.User != nil {
			g.user = parsed.User.Username()
		}
		if p := parsed.Port(); p != "" {
			g.port, _ = strconv.Atoi(p)
		}
		return g, nil
	}

	if g, ok := parseSCPLike(raw); ok {
		return g, nil
	}

	// A bare path: local repository.
	return &gitURL{path: raw}, nil
}

// parseSCPLike matches the [user@]host:path shorthand. The colon must come
// before any slash, and a single-letter "host" is taken for a Windows drive
// letter rather than a hostname.
func parseSCPLike(raw string) (*gitURL, bool) {
	colon := strings.Index(raw, ":")
	if colon <= 0 {
		return nil, false
	}
	if slash := strings.Index(raw, "/"); slash >= 0 && slash < colon {
		return nil, false
	}

	hostPart := raw[:colon]
	path := raw[colon+1:]

	var user string
	if at := strings.LastIndex(hostPart, "@"); at >= 0 {
		user, hostPart = hostPart[:at], hostPart[at+1:]
	}
	if hostPart == "" || path == "" || len(hostPart) == 1 {
		return nil, false
	}

	return &gitURL{user: user, host: hostPart, path: path}, true
}

// normalizedPath is the repository path without its leading slash or
// trailing ".git" suffix.
func (g *gitURL) normalizedPath() string {
	p := strings.TrimPrefix(g.path, "/")
	return strings.TrimSuffix(p, ".git")
}

// sanitized rebuilds the remote URL without credentials. The ".git" suffix
// stays: this is the address actually contacted, not the repository name.
func (g *gitURL) sanitized() string {
	s := g.scheme + "://" + g.host
	if g.port > 0 {
		s += ":" + strconv.Itoa(g.port)
	}
	return s + g.path
}
