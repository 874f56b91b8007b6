package model

// Node is what a slave sends to a master registry when it registers itself.
type Node struct {
	UUID       string       `json:"UUID"`
	Endpoint   EndpointInfo `json:"Endpoint"`
	StatusAddr string       `json:"StatusAddr"`
}

// SlaveStatus is returned by the slave status API.
type SlaveStatus struct {
	UUID      string   `json:"UUID"`
	Status    string   `json:"Status"`
	Executor  string   `json:"Executor"`
	Codec     string   `json:"Codec"`
	Sessions  int      `json:"Sessions"`
	Models    []string `json:"Models"`
	PoolSize  int      `json:"PoolSize"`
	PoolPeak  int      `json:"PoolPeak"`
	TasksDone int64    `json:"TasksDone"`
}
