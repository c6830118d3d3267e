package slack

// TruncateToMaxBytes exposes the Block Kit text limiter to slack_test
var TruncateToMaxBytes = truncateToMaxBytes
