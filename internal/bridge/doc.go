// Package bridge links relay instances through Redis Pub/Sub.
//
// Every relayed envelope is published on one channel tagged with the
// publishing instance id. Each instance delivers frames from other instances
// to its local hub and ignores its own.
package bridge
