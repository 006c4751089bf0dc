package booking

import (
	"fmt"
	"strings"

	"github.com/ciruelos/padelbot/internal/domain"
)

const (
	msgChatFailure      = "Hubo un problema tecnico, intenta de nuevo."
	msgSessionFailure   = "Hubo un problema tecnico al recuperar tu conversación. Intentá de nuevo en unos minutos."
	msgFlowCancelled    = "Entendido, cancelé el proceso de reserva. Si en algún momento querés intentarlo de nuevo, avisame."
	msgAwaitingReminder = "Estoy esperando el comprobante de la seña para confirmar tu reserva. " +
		"Si querés cancelar el proceso, escribí 'cancelar'."
	msgNotAwaiting = "No estoy esperando ningún comprobante en este momento. " +
		"Si querés hacer una reserva, escribime los datos."
	msgPendingLost = "Hubo un problema con tu reserva pendiente. Por favor empezá de nuevo."
	msgVerifying   = "Recibí el comprobante, lo estoy verificando..."
	msgMediaFailed = "No pude descargar la imagen. Por favor intentá mandarla de nuevo."
	msgIllegible   = "No pude leer bien la imagen, está borrosa o cortada. " +
		"Por favor mandá otra foto más clara del comprobante."
	msgVerifyTechnical = "Hubo un problema técnico al verificar el comprobante. " +
		"Por favor mandalo de nuevo en unos segundos."
	msgSaveFailed = "Hubo un problema técnico al guardar tu reserva. " +
		"Por favor intentá mandar el comprobante de nuevo o contactá al club directamente."
	msgPartialSaveFailed = "El comprobante es válido pero hubo un problema técnico al guardar la reserva. " +
		"Por favor contactá al club directamente."
	msgImageFailed = "Hubo un problema técnico al procesar la imagen. Intentá mandar la foto de nuevo."
)

func msgProofReused(payee string) string {
	return "Este comprobante ya fue utilizado para otra reserva y no puede reutilizarse.\n\n" +
		fmt.Sprintf("Por favor realizá una nueva transferencia a %s y mandame el comprobante nuevo.", payee)
}

func msgDepositSingle(club domain.Club) string {
	return fmt.Sprintf("Perfecto! Para confirmar tu reserva necesitás abonar una seña de $%s "+
		"por transferencia bancaria a %s.\n\n"+
		"Una vez que hagas la transferencia, mandame la foto del comprobante y confirmo tu reserva.",
		domain.FormatAmount(club.Deposit), club.Payee)
}

func msgDepositBatch(club domain.Club, count int) string {
	total := domain.FormatAmount(club.Deposit * count)
	each := domain.FormatAmount(club.Deposit)
	return fmt.Sprintf("Perfecto! Para confirmar tus %d reservas necesitás abonar una seña de $%s "+
		"(%d x $%s) por transferencia bancaria a %s.\n\n"+
		"Podés hacer una sola transferencia de $%s o varias de $%s cada una. "+
		"Mandame la foto de cada comprobante y confirmo tus reservas.",
		count, total, count, each, club.Payee, total, each)
}

func msgProofRejected(reason string, amount int, payee string) string {
	return fmt.Sprintf("El comprobante no es válido: %s\n\n"+
		"Recordá que la seña debe ser de $%s por transferencia bancaria a %s. "+
		"Mandame otra foto cuando lo tengas.",
		reason, domain.FormatAmount(amount), payee)
}

func msgConfirmed(created []domain.Reservation) string {
	if len(created) == 1 {
		r := created[0]
		return fmt.Sprintf("Comprobante verificado correctamente.\n\n"+
			"Tu reserva quedo confirmada:\n"+
			"ID: #%d\nFecha: %s\nHora: %s\nCancha: %s\nNombre: %s\n\n"+
			"Nos vemos en la cancha!",
			r.ID, r.Date, r.Time, domain.CourtName(r.CourtID), r.ClientName)
	}
	return fmt.Sprintf("Comprobante verificado correctamente.\n\n"+
		"Tus %d reservas quedaron confirmadas:\n%s\n\nNos vemos en la cancha!",
		len(created), reservationLines(created))
}

func msgPartialConfirmed(r domain.Reservation, remaining, deposit int) string {
	plural := ""
	if remaining > 1 {
		plural = "s"
	}
	return fmt.Sprintf("Comprobante verificado. Reserva confirmada:\n"+
		"ID: #%d - %s %s - %s\n\n"+
		"Todavía te falta abonar la seña de %d reserva%s más ($%s). Mandame el próximo comprobante.",
		r.ID, r.Date, r.Time, domain.CourtName(r.CourtID),
		remaining, plural, domain.FormatAmount(remaining*deposit))
}

func msgSlotLost(d domain.Draft) string {
	return fmt.Sprintf("Justo alguien reservó la %s el %s a las %s antes de que pudiera confirmarla. "+
		"Tu comprobante no se usó. Escribí 'cancelar' para empezar de nuevo con otro horario.",
		domain.CourtName(d.CourtID), d.Date, d.Time)
}

func msgBatchInterrupted(created []domain.Reservation, failed domain.Draft, remaining int, adminContact string) string {
	return fmt.Sprintf("Comprobante verificado. Confirmé %d de tus reservas:\n%s\n\n"+
		"No pude confirmar la %s el %s a las %s porque ese turno ya no está disponible. "+
		"Te quedan %d reserva(s) pendiente(s). Contactá a %s para resolver la seña ya abonada, "+
		"o escribí 'cancelar' para descartarlas.",
		len(created), reservationLines(created),
		domain.CourtName(failed.CourtID), failed.Date, failed.Time,
		remaining, adminContact)
}

func msgEscalated(adminContact string) string {
	return fmt.Sprintf("Le aviso al encargado para que te contacte. También podés escribirle directamente: %s", adminContact)
}

func reservationLines(rs []domain.Reservation) string {
	lines := make([]string, 0, len(rs))
	for _, r := range rs {
		lines = append(lines, fmt.Sprintf("#%d - %s %s - %s", r.ID, r.Date, r.Time, domain.CourtName(r.CourtID)))
	}
	return strings.Join(lines, "\n")
}

// System-result texts fed back to the conversation model.

func resultPastSlot(slot string, now string) string {
	return fmt.Sprintf("El turno de las %s de hoy ya pasó. Elegí un horario posterior a las %s.", slot, now)
}

func resultPastDate(date string) string {
	return fmt.Sprintf("La fecha %s ya pasó. Elegí una fecha a partir de hoy.", date)
}

func resultCourtTaken(d domain.Draft, free []int, batch bool) string {
	if len(free) == 0 {
		return fmt.Sprintf("No hay canchas libres para %s a las %s.", d.Date, d.Time)
	}
	names := make([]string, 0, len(free))
	for _, id := range free {
		names = append(names, domain.CourtName(id))
	}
	if batch {
		return fmt.Sprintf("La cancha %d para las %s no está libre. Disponibles: %s",
			d.CourtID, d.Time, strings.Join(names, ", "))
	}
	return fmt.Sprintf("La cancha %d ya no está libre. Disponibles: %s",
		d.CourtID, strings.Join(names, ", "))
}

func resultRepeatedSlot(d domain.Draft) string {
	return fmt.Sprintf("La %s el %s a las %s aparece más de una vez en el pedido.",
		domain.CourtName(d.CourtID), d.Date, d.Time)
}

func resultAvailability(date, slot string, free []int) string {
	if len(free) == 0 {
		return fmt.Sprintf("No hay canchas disponibles el %s a las %s.", date, slot)
	}
	names := make([]string, 0, len(free))
	for _, id := range free {
		names = append(names, domain.CourtName(id))
	}
	return fmt.Sprintf("Canchas libres el %s a las %s: %s", date, slot, strings.Join(names, ", "))
}

func resultReservations(phone string, rs []domain.Reservation) string {
	if len(rs) == 0 {
		return fmt.Sprintf("No hay reservas activas para el telefono %s.", phone)
	}
	lines := make([]string, 0, len(rs))
	for _, r := range rs {
		lines = append(lines, fmt.Sprintf("#%d - %s %s - %s - %s",
			r.ID, r.Date, r.Time, domain.CourtName(r.CourtID), r.ClientName))
	}
	return "Reservas encontradas:\n" + strings.Join(lines, "\n")
}

func resultNotFound(id int64) string        { return fmt.Sprintf("No existe la reserva #%d.", id) }
func resultAlreadyCancelled(id int64) string { return fmt.Sprintf("La reserva #%d ya estaba cancelada.", id) }
func resultCancelFailed(id int64) string     { return fmt.Sprintf("ERROR al cancelar la reserva #%d.", id) }

func resultCancelled(r *domain.Reservation) string {
	return fmt.Sprintf("Reserva #%d cancelada. Era: %s %s - %s - %s",
		r.ID, r.Date, r.Time, domain.CourtName(r.CourtID), r.ClientName)
}

func wrapSystemResult(text string) string {
	return "<RESULTADO_SISTEMA>" + text + "</RESULTADO_SISTEMA>"
}

func cancelBatchLine(id int64, outcome cancelOutcome, r *domain.Reservation) string {
	switch outcome {
	case cancelMissing:
		return fmt.Sprintf("#%d: no existe", id)
	case cancelAlready:
		return fmt.Sprintf("#%d: ya estaba cancelada", id)
	case cancelDone:
		return fmt.Sprintf("#%d cancelada (%s %s - %s)", id, r.Date, r.Time, domain.CourtName(r.CourtID))
	}
	return fmt.Sprintf("#%d: error al cancelar", id)
}
