// Package alert holds the tick-to-alert hot path: the durable store access
// layer, the in-process cache of non-terminal alerts, and the state machine
// engine that advances alerts on each price update.
package alert
