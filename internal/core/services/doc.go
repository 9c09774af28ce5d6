// Package services contains the core application services: the ingestion
// pipeline, the embedding batcher, hybrid retrieval and citation assembly.
// Services depend only on the port interfaces, never on concrete adapters.
package services
