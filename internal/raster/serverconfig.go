package raster

import (
	"encoding/xml"
	"fmt"
)

// ServerConfig is the parsed form of a <dataset>.RasterServer.xml resource,
// the descriptor a local raster server is built from. The full schema
// belongs to an external collaborator; this reads the property list and the
// data sources.
type ServerConfig struct {
	XMLName    xml.Name         `xml:"RasterServer"`
	Version    string           `xml:"version,attr"`
	Properties []ServerProperty `xml:"Property"`
	Sources    []ServerSource   `xml:"Source"`
}

// ServerProperty is a single name/value descriptor entry.
type ServerProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ServerSource names one data file backing the server.
type ServerSource struct {
	Path string `xml:"path,attr"`
	Type string `xml:"type,attr"`
}

// Property returns the named property value, or "" when absent.
func (c *ServerConfig) Property(name string) string {
	for _, p := range c.Properties {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// ParseServerConfig reads a raster-server descriptor document.
func ParseServerConfig(doc []byte) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := xml.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("raster: parse server config: %w", err)
	}
	return &cfg, nil
}
