// Package retrieval defines the facade the daemon uses to drive background
// indexing and answer retrieval queries. The daemon depends only on Service;
// the local implementation lives in package engine.
package retrieval
