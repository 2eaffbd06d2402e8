// Package taskapp is a distributed task queue.
//
// An App is created once per process with New, bound to a settings module
// with ConfigFromSettings or ConfigFromObject, and populated with tasks
// either directly through Register or by AutodiscoverTasks, which loads the
// task modules that app packages declare with RegisterTaskModule from their
// init functions.
//
// Tasks are sent with Task.Delay, Task.ApplyAsync or App.SendTask. Messages
// travel through a Broker (in memory or Redis) to a Worker, which executes
// them with time limits, rate limits and retries, and records outcomes in a
// ResultBackend. Beat sends the tasks listed in beat_schedule on their cron
// schedules.
package taskapp
