// Package async provides panic-safe background execution: SafeGo for one-off
// tasks and WorkerPool for bounded queues of work, such as audit delivery.
package async
