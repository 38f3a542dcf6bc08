// Package main hosts the pagebind CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, builds the workflow
// manager with its journal, metrics and remote store, and renders results
// as plain text or go-pretty tables. Progress bars and colored output are
// only used when stderr/stdout is a terminal.
//
// Pipeline behavior lives in internal/workflow and the packages it wires;
// commands here only parse arguments and present outcomes.
package main
