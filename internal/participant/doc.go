// Package participant runs participants next to the runtime.
//
// An Intermediary is the participant side of the bus protocol: it registers,
// reports status on a heartbeat, filters the commands on the runtime topic
// down to the ones addressed to its participant id, runs them on a bounded
// pool through an Adapter and publishes the acknowledgements.
//
// Two adapters are provided. Simulator answers after a configurable delay
// and can be told to fail or to stay silent for chosen operation kinds.
// KubernetesAdapter materialises every element instance as a ConfigMap.
package participant
