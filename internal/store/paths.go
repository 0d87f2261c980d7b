package store

import "strconv"

func UserPath(uid string) string {
	return "users/" + uid
}

func EventsPath(uid string) string {
	return UserPath(uid) + "/events"
}

func EventPath(uid string, seq int64) string {
	return EventsPath(uid) + "/" + strconv.FormatInt(seq, 10)
}

func VideosPath(uid string) string {
	return UserPath(uid) + "/videos"
}

func VideoPath(uid string, seq int64) string {
	return VideosPath(uid) + "/" + strconv.FormatInt(seq, 10)
}

func EventCounterPath(uid string) string {
	return UserPath(uid) + "/event_counter"
}

func VideoCounterPath(uid string) string {
	return UserPath(uid) + "/video_counter"
}
