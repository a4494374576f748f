package rdf

import (
	"fmt"
	"strings"

	"github.com/omnia-iot/omnia-backend/interfaces"
)

const (
	omniaNS = "https://omnia-iot.com/ns#"
	rdfType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
)

// GraphIRI names the graph a database principal writes into.
func GraphIRI(databasePrincipalID string) string {
	return "urn:omnia:" + databasePrincipalID
}

func deviceIRI(uid interfaces.DeviceUID) string {
	return "urn:omnia:device:" + string(uid)
}

func gatewayIRI(principal interfaces.PrincipalID) string {
	return "urn:omnia:gateway:" + string(principal)
}

func environmentIRI(uid interfaces.EnvironmentUID) string {
	return "urn:omnia:environment:" + string(uid)
}

// DeviceQuads describes a registered device in graph.
func DeviceQuads(device interfaces.RegisteredDevice, graph string) []interfaces.Quad {
	subject := deviceIRI(device.DeviceUID)
	quads := []interfaces.Quad{
		{Subject: subject, Predicate: rdfType, Object: omniaNS + "Device", Graph: graph},
		{Subject: subject, Predicate: omniaNS + "deviceUid", Object: string(device.DeviceUID), Graph: graph, Literal: true},
		{Subject: subject, Predicate: omniaNS + "managedBy", Object: gatewayIRI(device.GatewayPrincipalID), Graph: graph},
		{Subject: subject, Predicate: omniaNS + "inEnvironment", Object: environmentIRI(device.EnvUID), Graph: graph},
		{Subject: subject, Predicate: omniaNS + "deviceUrl", Object: device.DeviceURL, Graph: graph, Literal: true},
	}
	for _, h := range device.RequiredHeaders {
		quads = append(quads, interfaces.Quad{
			Subject: subject, Predicate: omniaNS + "requiredHeader", Object: h.Name + ": " + h.Value, Graph: graph, Literal: true,
		})
	}
	return quads
}

// InsertData renders quads as a SPARQL INSERT DATA update, one GRAPH block
// per named graph in first-seen order.
func InsertData(quads []interfaces.Quad) string {
	var order []string
	byGraph := make(map[string][]interfaces.Quad)
	for _, q := range quads {
		if _, ok := byGraph[q.Graph]; !ok {
			order = append(order, q.Graph)
		}
		byGraph[q.Graph] = append(byGraph[q.Graph], q)
	}

	var b strings.Builder
	b.WriteString("INSERT DATA {\n")
	for _, graph := range order {
		fmt.Fprintf(&b, "  GRAPH %s {\n", iri(graph))
		for _, q := range byGraph[graph] {
			object := iri(q.Object)
			if q.Literal {
				object = literal(q.Object)
			}
			fmt.Fprintf(&b, "    %s %s %s .\n", iri(q.Subject), iri(q.Predicate), object)
		}
		b.WriteString("  }\n")
	}
	b.WriteString("}\n")
	return b.String()
}

var iriEscaper = strings.NewReplacer(
	"<", "%3C", ">", "%3E", `"`, "%22", " ", "%20",
	"{", "%7B", "}", "%7D", "|", "%7C", `\`, "%5C", "^", "%5E", "`", "%60",
)

func iri(s string) string {
	return "<" + iriEscaper.Replace(s) + ">"
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`,
)

func literal(s string) string {
	return `"` + literalEscaper.Replace(s) + `"`
}
