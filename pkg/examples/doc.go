// Package examples contains ready-made models for trying out a node:
// a generic on/off server and client pair built on the model registry.
// They double as a template for writing application models.
package examples
