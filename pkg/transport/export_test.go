package transport

var RetriesLeft = retriesLeft
