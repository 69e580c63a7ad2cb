package service

// Package service implements supervision of the linking pipeline: Silk
// container runs, alignment postprocessing and publishing of the
// produced owl:sameAs Turtle.
//
// Overview
// The Supervisor owns an event loop and the set of uniquely named jobs
// from the configuration. Clients request a start, the supervisor runs
// the job through a Linker, filters the alignment the run left behind
// and fans the generated Turtle out to every configured Publisher.
//
// Data flow:
//
//   Supervisor               Linker                  Publishers
//       |                       |                        |
//       | Start(name) --------->| RunJob() container     |
//       |                       | writes alignment       |
//       |<------ Result --------|                        |
//       | parse, filter, render owl:sameAs               |
//       | publish -------------------------------------->| links dir, archive, Fuseki
//
// Invariants:
//   - At most one run per job at a time, a start for a running job is
//     dropped with a warning.
//   - Silk runs are serialized, two JVM containers must not race for
//     the same workspace.
//   - Manual mode triggers every job once and returns the first error.
//   - Timer mode logs errors and keeps going until the context ends.
//
// internal/service/supervisor_test.go is the best source about how to
// properly use the Supervisor struct.
