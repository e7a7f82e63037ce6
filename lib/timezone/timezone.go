package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Tokyo")
	if err != nil {
		panic(err)
	}
}

// the portal opens its conversion windows on Tokyo wall-clock time, so all
// scheduling math has to happen in JST no matter where the host runs
func Now() time.Time {
	return time.Now().In(Location)
}
