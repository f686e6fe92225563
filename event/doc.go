// Package event defines the simulator's external interface: inbound messages
// that simulate hardware input, outbound events that report state changes,
// their NDJSON encoding, and the Bus that queues both directions.
//
// Every record is a JSON object tagged by a "type" field:
//
//	{"type":"phase_change","phase":{"mode":"autonomous","connected":true}}
//	{"type":"lcd_updated","seq":4,"time_ms":120,"run_id":"...","lines":["hello","","","","","","",""]}
//
// One complete record is written per line.
package event
