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

package sentry

import (
	"fmt"

	"go.uber.org/zap"
)

// IssueType picks both the log level and the sentry level of a report.
type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
)

// PoolContext says where in the pool an issue came from. Operation, Worker and
// Cycle become tags and are left out when empty; Operation also splits the
// sentry grouping. Extra is attached as is.
type PoolContext struct {
	Operation string
	Worker    string
	Cycle     string
	Extra     map[string]interface{}
}

func (c PoolContext) tags() map[string]string {
	tags := make(map[string]string, 3)
	for key, value := range map[string]string{"operation": c.Operation, "worker": c.Worker, "cycle": c.Cycle} {
		if value != "" {
			tags[key] = value
		}
	}
	return tags
}

// ReportIssuef logs the formatted error and sends it to sentry unless an
// issue of the same type was sent within the debounce window.
func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	report(issueType, log, fmt.Errorf(template, args...), PoolContext{})
}

// ReportPoolIssuef is ReportIssuef with the pool context attached to the event.
func ReportPoolIssuef(issueType IssueType, log *zap.SugaredLogger, pc PoolContext, template string, args ...interface{}) {
	report(issueType, log, fmt.Errorf(template, args...), pc)
}
