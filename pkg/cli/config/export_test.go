package config

// NewLoggerForTest creates a Logger config for testing purposes
func NewLoggerForTest(level, format, output string) *Logger {
	return &Logger{level: level, format: format, output: output}
}

// NewRepositoryForTest creates a Repository config for testing purposes
func NewRepositoryForTest(backend, projectID, postgresDSN string) *Repository {
	return &Repository{backend: backend, projectID: projectID, postgresDSN: postgresDSN}
}

// NewICSRForTest creates an ICSR config for testing purposes
func NewICSRForTest(path, senderID, environment string) *ICSR {
	return &ICSR{path: path, senderID: senderID, environment: environment}
}

// NewGatewayForTest creates a Gateway config for testing purposes
func NewGatewayForTest(baseURL, tokenURL, clientID string) *Gateway {
	return &Gateway{baseURL: baseURL, tokenURL: tokenURL, clientID: clientID}
}

// NewExportForTest creates an Export config for testing purposes
func NewExportForTest(target string) *Export {
	return &Export{target: target}
}
