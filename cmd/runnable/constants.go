package main

// Output format constants.
const (
	jsonFormat = "json"
	yamlFormat = "yaml"
	textFormat = "text"
)

// History table used by the sql backend.
const historyTable = "chat_messages"

// userAgent identifies the agent to the Wikipedia API.
const userAgent = "runnable-cli (https://github.com/agentstation/runnable)"
