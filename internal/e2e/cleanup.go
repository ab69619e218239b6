package e2e

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/reillywatson/cipipeline/internal/shell"
)

const composeProjectLabel = "com.docker.compose.project"

// Cleaner frees the host ports an E2E environment needs and removes
// resources left behind by earlier builds
type Cleaner struct {
	Runner shell.Runner
	Log    *logrus.Entry
	Policy RetryPolicy
	// PortFree reports whether a host port can be bound
	PortFree func(port int) bool
}

func NewCleaner(runner shell.Runner, policy RetryPolicy) *Cleaner {
	return &Cleaner{
		Runner:   runner,
		Log:      logrus.WithField("component", "e2e-cleanup"),
		Policy:   policy,
		PortFree: portFree,
	}
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// BusyPortsError lists ports still bound after every cleanup attempt
type BusyPortsError struct {
	Ports    []int
	Attempts int
}

func (e *BusyPortsError) Error() string {
	ports := make([]string, 0, len(e.Ports))
	for _, p := range e.Ports {
		ports = append(ports, strconv.Itoa(p))
	}
	return fmt.Sprintf("ports still in use after %d cleanup attempt(s): %s", e.Attempts, strings.Join(ports, ", "))
}

// Cleanup removes containers and networks labelled with project, then
// repeatedly removes any container publishing one of ports until every
// port can be bound or the retry policy is exhausted
func (c *Cleaner) Cleanup(ctx context.Context, project string, ports []int) error {
	if project != "" {
		c.removeProject(ctx, project)
	}

	var busy []int
	for attempt := 1; attempt <= c.Policy.MaxAttempts; attempt++ {
		busy = c.busyPorts(ports)
		if len(busy) == 0 {
			c.Log.WithField("attempt", attempt).Info("All E2E ports are free")
			return nil
		}

		log := c.Log.WithFields(logrus.Fields{"attempt": attempt, "busy": busy})
		log.Warn("Ports in use, removing containers publishing them")
		for _, port := range busy {
			c.removePublishers(ctx, port)
		}
		if project != "" {
			c.removeNetworks(ctx, project)
		}

		if busy = c.busyPorts(ports); len(busy) == 0 {
			log.Info("Ports freed")
			return nil
		}
		if attempt < c.Policy.MaxAttempts {
			if err := sleep(ctx, c.Policy.Delay(attempt)); err != nil {
				return fmt.Errorf("port cleanup interrupted: %w", err)
			}
		}
	}
	return &BusyPortsError{Ports: busy, Attempts: c.Policy.MaxAttempts}
}

func (c *Cleaner) busyPorts(ports []int) []int {
	var busy []int
	for _, p := range ports {
		if !c.PortFree(p) {
			busy = append(busy, p)
		}
	}
	sort.Ints(busy)
	return busy
}

func (c *Cleaner) removeProject(ctx context.Context, project string) {
	ids := c.list(ctx, "ps", "-aq", "--filter", "label="+composeProjectLabel+"="+project)
	c.remove(ctx, []string{"rm", "-f"}, ids)
	c.removeNetworks(ctx, project)
}

func (c *Cleaner) removePublishers(ctx context.Context, port int) {
	ids := c.list(ctx, "ps", "-q", "--filter", "publish="+strconv.Itoa(port))
	c.remove(ctx, []string{"rm", "-f"}, ids)
}

func (c *Cleaner) removeNetworks(ctx context.Context, project string) {
	ids := c.list(ctx, "network", "ls", "-q", "--filter", "label="+composeProjectLabel+"="+project)
	c.remove(ctx, []string{"network", "rm"}, ids)
}

// list runs a docker listing command and returns the IDs it printed
func (c *Cleaner) list(ctx context.Context, args ...string) []string {
	res, err := c.Runner.Run(ctx, shell.Command{Name: "docker", Args: args})
	if err != nil {
		c.Log.WithError(err).WithField("args", strings.Join(args, " ")).Debug("docker listing failed")
		return nil
	}
	return strings.Fields(res.Output)
}

// remove is best-effort: a container may already be gone by the time we get to it
func (c *Cleaner) remove(ctx context.Context, verb, ids []string) {
	if len(ids) == 0 {
		return
	}
	args := append(append([]string{}, verb...), ids...)
	if _, err := c.Runner.Run(ctx, shell.Command{Name: "docker", Args: args}); err != nil {
		c.Log.WithError(err).WithField("ids", ids).Warn("Failed to remove docker resources")
	}
}
