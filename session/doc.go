/*
Package session runs one-shot executions of the codex-app-server subprocess and exposes each execution as an ordered stream of typed events.

A session owns exactly one child process. The runner spawns the child with stdin/stdout/stderr piped, writes two newline-delimited JSON-RPC requests to its stdin ("initialize" with id 1, then "execOneOffCommand" with id 2 carrying the prompt), and concurrently drains both output streams line by line. Every line becomes a stdout_line or stderr_line event; stdout lines that parse as JSON-RPC additionally produce task_progress and task_result events. The whole execution races a wall-clock deadline: if the deadline fires first the child is killed and a single terminal error event with kind "timeout" is emitted instead of task_completed.

Exactly one terminal event (task_completed or the timeout error) ends every stream, and the child is always either waited on to completion or killed before the stream closes. The event channel is finite, consumed once, and not restartable.
*/
package session
