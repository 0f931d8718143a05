// Package internaldefs holds the metric names and histogram bounds shared by the
// exporters.
//
// Both the Prometheus and OTel exporters read these tables, so a rename here changes
// every exporter at once.
package internaldefs
