// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrForeignHost is returned when asked to remove a registration that belongs to another host.
var ErrForeignHost = errors.New("registration belongs to a different host")

// Registration is a broker-side record of a worker that announced itself.
type Registration struct {
	// Name is the worker name, Key the full registry key holding its hash.
	Name string
	Key  string

	Hostname      string
	PID           int
	Queues        []string
	State         string
	Birth         time.Time
	LastHeartbeat time.Time
}

// WorkerName builds the name a pool worker registers under: <host>.<worker>.<suffix>.
// The host identity is carried in the name because RQ fills the hostname
// field with the OS hostname, which may differ from the identity.
func WorkerName(host, worker, suffix string) string {
	return host + "." + worker + "." + suffix
}

// OwnedBy reports whether the registration was started for host, judged by
// its name. A host that is only a prefix of another one does not match.
func (r Registration) OwnedBy(host string) bool {
	rest, ok := strings.CutPrefix(r.Name, host+".")
	if !ok {
		return false
	}
	worker, suffix, ok := strings.Cut(rest, ".")
	return ok && worker != "" && suffix != "" && !strings.Contains(suffix, ".")
}

// View is a single, uncached read of the registry for one host.
type View struct {
	Live          int
	Registrations []Registration
}

// Registry reads and prunes broker-side worker registrations.
type Registry interface {
	// List returns the live registrations owned by host.
	List(ctx context.Context, host string) ([]Registration, error)
	// Deregister removes reg from the registry. It refuses registrations of other hosts.
	Deregister(ctx context.Context, host string, reg Registration) error
	// Ping checks that the broker is reachable.
	Ping(ctx context.Context) error
}

// Snapshot lists the registrations of host and wraps them in a View.
func Snapshot(ctx context.Context, r Registry, host string) (View, error) {
	regs, err := r.List(ctx, host)
	if err != nil {
		return View{}, err
	}

	return View{Live: len(regs), Registrations: regs}, nil
}

// timestampLayout is how RQ writes birth and last_heartbeat.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		// older RQ versions write RFC3339 without fractions
		t, _ = time.Parse(time.RFC3339, value)
	}
	return t
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseRegistration(key, prefix string, fields map[string]string) Registration {
	reg := Registration{
		Name:          strings.TrimPrefix(key, prefix+"worker:"),
		Key:           key,
		Hostname:      fields["hostname"],
		State:         fields["state"],
		Birth:         parseTimestamp(fields["birth"]),
		LastHeartbeat: parseTimestamp(fields["last_heartbeat"]),
	}
	if pid, err := strconv.Atoi(fields["pid"]); err == nil {
		reg.PID = pid
	}
	for _, q := range strings.Split(fields["queues"], ",") {
		if q = strings.TrimSpace(q); q != "" {
			reg.Queues = append(reg.Queues, q)
		}
	}

	return reg
}
