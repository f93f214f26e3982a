// Package contracts defines the messages exchanged with home workers.
//
//   - Instruction: a command for one or more zones (remote control, sensors, heartbeat, ...)
//   - WorkerResponse: the reply a worker sends back for ask-and-wait instructions
//   - ParseError: returned by the strict decoders in the serialization package
package contracts
