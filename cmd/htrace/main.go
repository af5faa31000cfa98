/*
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// htrace is a small command-line tool for querying a running htraced
// daemon: dumping a trace's span tree as JSON, rendering it as a Graphviz
// .dot graph, and running ad hoc queries (supplemented feature; see
// SPEC_FULL.md).
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/apache/htrace-htraced/internal/common"
	"github.com/apache/htrace-htraced/pkg/client"
)

var (
	app  = kingpin.New("htrace", "Command-line client for htraced.")
	addr = app.Flag("addr", "htraced REST address, e.g. http://localhost:9095").
		Default("http://localhost:9095").String()

	versionCmd = app.Command("version", "Print the connected daemon's version.")

	dumpCmd   = app.Command("dumpTrace", "Dump a span and its descendants as JSON.")
	dumpRoot  = dumpCmd.Arg("spanid", "Root span id, as hex.").Required().String()

	graphCmd  = app.Command("graph", "Render a span and its descendants as a Graphviz .dot graph.")
	graphRoot = graphCmd.Arg("spanid", "Root span id, as hex.").Required().String()

	queryCmd   = app.Command("query", "Run an ad hoc query.")
	queryPreds = queryCmd.Flag("pred", "A predicate field:op:val; may be repeated.").Strings()
	queryLim   = queryCmd.Flag("lim", "Maximum number of results.").Default("20").Int()
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	c := client.NewRestClient(*addr)

	var err error
	switch cmd {
	case versionCmd.FullCommand():
		err = runVersion(c)
	case dumpCmd.FullCommand():
		err = runDump(c, *dumpRoot)
	case graphCmd.FullCommand():
		err = runGraph(c, *graphRoot)
	case queryCmd.FullCommand():
		err = runQuery(c, *queryPreds, *queryLim)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "htrace: %s\n", err.Error())
		os.Exit(1)
	}
}

func runVersion(c *client.RestClient) error {
	v, err := c.GetServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("release: %s, git: %s\n", v.ReleaseVersion, v.GitVersion)
	return nil
}

// Walks the span tree rooted at rootId via repeated FindChildren calls and
// returns every span reached, keyed by id so a span visited through more
// than one parent edge isn't duplicated.
func collectTree(c *client.RestClient, rootId common.SpanId) (map[string]*common.Span, error) {
	spans := make(map[string]*common.Span)
	queue := []common.SpanId{rootId}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := spans[id.String()]; seen {
			continue
		}
		span, err := c.FindSpan(id)
		if err != nil {
			return nil, err
		}
		if span == nil {
			continue
		}
		spans[id.String()] = span
		children, err := c.FindChildren(id, 1<<20)
		if err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}
	return spans, nil
}

func runDump(c *client.RestClient, rootHex string) error {
	rootId, err := common.SpanIdFromString(rootHex)
	if err != nil {
		return err
	}
	spans, err := collectTree(c, rootId)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(spans)
}

func runGraph(c *client.RestClient, rootHex string) error {
	rootId, err := common.SpanIdFromString(rootHex)
	if err != nil {
		return err
	}
	spans, err := collectTree(c, rootId)
	if err != nil {
		return err
	}
	fmt.Println("digraph spans {")
	for _, span := range spans {
		fmt.Printf("  \"%s\" [label=\"%s\"];\n", span.Id.String(),
			strings.Replace(span.Description, "\"", "'", -1))
	}
	for _, span := range spans {
		for _, parent := range span.Parents {
			fmt.Printf("  \"%s\" -> \"%s\";\n", parent.String(), span.Id.String())
		}
	}
	fmt.Println("}")
	return nil
}

// Parses "field:op:val" predicate strings, e.g. "description:CONTAINS:foo"
// or "begin:GE:1000".
func parsePredicates(raw []string) ([]common.Predicate, error) {
	var preds []common.Predicate
	fieldsByName := map[string]common.Field{
		"span_id": common.SPAN_ID, "description": common.DESCRIPTION,
		"begin": common.BEGIN_TIME, "end": common.END_TIME,
		"duration": common.DURATION, "tracer_id": common.TRACER_ID,
	}
	opsByName := map[string]common.Op{
		"EQ": common.EQ, "LT": common.LT, "LE": common.LE,
		"GT": common.GT, "GE": common.GE, "CONTAINS": common.CONTAINS,
	}
	for _, raw := range raw {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed predicate %q; want field:op:val", raw)
		}
		field, ok := fieldsByName[strings.ToLower(parts[0])]
		if !ok {
			return nil, fmt.Errorf("unknown field %q", parts[0])
		}
		op, ok := opsByName[strings.ToUpper(parts[1])]
		if !ok {
			return nil, fmt.Errorf("unknown op %q", parts[1])
		}
		if op == common.EQ {
			preds = append(preds, client.EqPredicate(field, parts[2]))
		} else {
			preds = append(preds, common.Predicate{Field: field, Op: op, Val: parts[2]})
		}
	}
	return preds, nil
}

func runQuery(c *client.RestClient, rawPreds []string, lim int) error {
	preds, err := parsePredicates(rawPreds)
	if err != nil {
		return err
	}
	query := &common.Query{Predicates: preds, Lim: lim}
	spans, err := c.Query(query)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(spans)
}
